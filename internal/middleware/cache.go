// Package middleware contains http middlewares.
package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"time"

	"github.com/agora-blog/agora/internal/middleware/memory"
)

// Cache is a response cache for idempotent GET endpoints. Writes are expected
// to call Invalidate so listings never serve data staler than the TTL.
type Cache struct {
	storage *memory.Storage
}

// NewCache ...
func NewCache() *Cache {
	return &Cache{
		storage: memory.NewStorage(),
	}
}

// Wrap decorates handler with cache lookup/populate. Only successful GET
// responses are stored; anything else passes through untouched.
func (c *Cache) Wrap(ttl time.Duration, handler func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			handler(w, r)
			return
		}

		key := requestKey(r)

		if content := c.storage.Get(key); content != nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(content)
			return
		}

		rec := httptest.NewRecorder()
		handler(rec, r)

		for k, v := range rec.Header() {
			w.Header()[k] = v
		}

		w.WriteHeader(rec.Code)
		content := rec.Body.Bytes()

		if rec.Code >= 200 && rec.Code < 300 {
			c.storage.Set(key, content, ttl)
		}

		_, _ = w.Write(content)
	}
}

// Invalidate removes every cached entry whose key contains pattern, or all
// entries when pattern is empty.
func (c *Cache) Invalidate(pattern string) {
	if pattern == "" {
		c.storage.Clear()
		return
	}

	c.storage.DeleteMatching(pattern)
}

// requestKey is a deterministic signature of the request: method, path and
// query parameters in sorted order, so ?a=1&b=2 and ?b=2&a=1 share an entry.
func requestKey(r *http.Request) string {
	q, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return fmt.Sprintf("%s %s?%s", r.Method, r.URL.Path, r.URL.RawQuery)
	}

	return fmt.Sprintf("%s %s?%s", r.Method, r.URL.Path, q.Encode())
}
