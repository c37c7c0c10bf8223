package advisory

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Cache provides file-based caching of rewritten advisories so each stored
// result is only sent to the model once.
type Cache struct {
	dir    string
	maxAge time.Duration
}

func NewCache(dir string, maxAge time.Duration) *Cache {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("advisory: could not create cache directory: %v", err)
	}
	return &Cache{dir: dir, maxAge: maxAge}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, fmt.Sprintf("advisory_%s.txt", unsafeKey.ReplaceAllString(key, "_")))
}

// Get returns the cached text unless it is missing or older than maxAge.
func (c *Cache) Get(key string) (string, bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if c.maxAge > 0 && time.Since(info.ModTime()) > c.maxAge {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (c *Cache) Set(key, text string) error {
	return os.WriteFile(c.path(key), []byte(text), 0o644)
}
