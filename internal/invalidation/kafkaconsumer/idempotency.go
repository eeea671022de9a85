package kafkaconsumer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type versionDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newVersionDedupe(size int) *versionDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, int64](size)
	return &versionDedupe{lru: c}
}

// reports whether v is not newer than the last applied version of key
func (d *versionDedupe) stale(key string, v int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(key)
	return ok && v <= last
}

func (d *versionDedupe) record(key string, v int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Peek(key); ok && last >= v {
		return
	}
	d.lru.Add(key, v)
}
