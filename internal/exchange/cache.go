package exchange

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

// ErrCacheMiss is returned when no response is cached for a request
var ErrCacheMiss = errors.New("no cached response")

// FileCache stores raw response bodies on disk, one file per request
type FileCache struct {
	dir string
}

// NewFileCache creates a cache rooted at dir
func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

// Key derives a stable cache key from request parameters
func (c *FileCache) Key(params url.Values) string {
	sum := sha1.Sum([]byte(params.Encode()))
	return hex.EncodeToString(sum[:])
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+".cache")
}

// Get returns the cached body for key
func (c *FileCache) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	return data, err
}

// Put stores body under key, replacing any previous entry
func (c *FileCache) Put(key string, body []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, "."+key+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}
