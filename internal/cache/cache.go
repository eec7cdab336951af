// Package cache provides the shared result cache for expensive lookups and
// reusable generation artifacts. It is a pure memoization layer: no job
// state lives here.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// ResultCache memoizes byte payloads by fingerprint. Concurrent requests for
// the same fingerprint share a single in-flight computation; entries expire
// after a staleness window and are evicted least-recently-used beyond the
// configured capacity.
type ResultCache struct {
	group   singleflight.Group
	entries *expirable.LRU[string, []byte]
}

// New builds a ResultCache holding at most capacity entries for at most ttl.
func New(capacity int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		entries: expirable.NewLRU[string, []byte](capacity, nil, ttl),
	}
}

// GetOrCompute returns the cached value for fingerprint, computing and
// storing it on a miss. While a computation is in flight every additional
// caller for the same fingerprint waits for that computation's result
// instead of issuing a duplicate external call. Errors are not cached.
func (c *ResultCache) GetOrCompute(ctx context.Context, fingerprint string, fn ComputeFunc) ([]byte, error) {
	if v, ok := c.entries.Get(fingerprint); ok {
		return v, nil
	}

	// The flight is shared across jobs, so it runs detached from the
	// leader's context: one caller's deadline must not fail the waiters.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fingerprint, func() (any, error) {
		if v, ok := c.entries.Get(fingerprint); ok {
			return v, nil
		}
		v, err := fn(flightCtx)
		if err != nil {
			return nil, err
		}
		c.entries.Add(fingerprint, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of live entries.
func (c *ResultCache) Len() int {
	return c.entries.Len()
}

// Fingerprint hashes the normalized input parts into a deterministic cache
// key. Normalization lowercases and collapses whitespace so semantically
// identical lookups share an entry.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(normalize(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
