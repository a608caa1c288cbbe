package models

// Bucket aggregates the trades of one fixed-width time slot. Amount, Total and
// Rate are derived on demand and never stored.
type Bucket struct {
	Start      float64 `json:"start"`
	TotalBuy   float64 `json:"total_buy"`
	AmountBuy  float64 `json:"amount_buy"`
	TotalSell  float64 `json:"total_sell"`
	AmountSell float64 `json:"amount_sell"`

	// Rates of the first, highest, lowest and last trade in the slot
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
	Count int     `json:"count"`
}

// Amount returns the traded quantity on both sides
func (b Bucket) Amount() float64 {
	return b.AmountBuy + b.AmountSell
}

// Total returns the traded quote value on both sides
func (b Bucket) Total() float64 {
	return b.TotalBuy + b.TotalSell
}

// Rate returns the volume-weighted rate of the slot, or 0 for an empty slot
func (b Bucket) Rate() float64 {
	amount := b.Amount()
	if amount == 0 {
		return 0
	}
	return b.Total() / amount
}

// Add accumulates one trade into the bucket
func (b *Bucket) Add(t Trade) {
	rate := t.Rate()
	if b.Count == 0 {
		b.Open, b.High, b.Low = rate, rate, rate
	}
	if rate > b.High {
		b.High = rate
	}
	if rate < b.Low {
		b.Low = rate
	}
	b.Close = rate
	b.Count++

	switch t.Type {
	case TradeTypeBuy:
		b.TotalBuy += t.Total
		b.AmountBuy += t.Amount
	case TradeTypeSell:
		b.TotalSell += t.Total
		b.AmountSell += t.Amount
	}
}
