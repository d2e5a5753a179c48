package embedder

import (
	"container/list"
	"context"
	"sync"
)

// LRU is the in-process Cache used when no Redis is configured.
type LRU struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key string
	vec []float32
}

func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LRU{cap: capacity, ll: list.New(), items: map[string]*list.Element{}}
}

func (c *LRU) Get(_ context.Context, model, hash string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[model+":"+hash]
	if !ok {
		return nil, false, nil
	}
	c.ll.MoveToFront(el)
	return el.Value.(*lruEntry).vec, true, nil
}

func (c *LRU) Set(_ context.Context, model, hash string, vec []float32) error {
	key := model + ":" + hash
	cp := append([]float32(nil), vec...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).vec = cp
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[key] = c.ll.PushFront(&lruEntry{key: key, vec: cp})
	for c.ll.Len() > c.cap {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
	return nil
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
