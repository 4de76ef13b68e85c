package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedup is a size-bound LRU of identity keys seen during one pass. It only
// counts repeats; the repository still upserts them.
type Dedup struct {
	seen *lru.Cache[string, struct{}]
}

func NewDedup(maxKeys int) *Dedup {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	// only fails for a non-positive size
	seen, _ := lru.New[string, struct{}](maxKeys)
	return &Dedup{seen: seen}
}

// Seen reports whether key was marked and has not been evicted.
func (d *Dedup) Seen(key string) bool {
	return d.seen.Contains(key)
}

func (d *Dedup) Mark(key string) {
	d.seen.Add(key, struct{}{})
}

// Observe marks key and reports whether it had been seen already.
func (d *Dedup) Observe(key string) bool {
	dup := d.Seen(key)
	d.Mark(key)
	return dup
}

// Len is the number of distinct keys still tracked.
func (d *Dedup) Len() int { return d.seen.Len() }
