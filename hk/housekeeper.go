// Package hk provides a mechanism for registering cleanup functions that
// are invoked at specified intervals: Reg/Unreg by name, a DefaultHK
// runner driven off a min-heap of due times.
//
// Used here for two idle-driven cleanups: CycleBuffer idle-shrink and
// Connection idle-teardown.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"
)

const NameSuffix = ".hk"

type (
	// CleanupFunc runs on its tick and returns the delay until the next
	// tick (allowing a registrant to slow down or speed up its own cadence).
	CleanupFunc func() time.Duration

	request struct {
		name     string
		f        CleanupFunc
		interval time.Duration
		initTime time.Time
	}

	housekeeper struct {
		mu      sync.Mutex
		items   map[string]*item
		heap    itemHeap
		workCh  chan request
		unregCh chan string
		stopCh  chan struct{}
		started chan struct{}
		once    sync.Once
	}

	item struct {
		request
		due   time.Time
		index int
	}

	itemHeap []*item
)

// DefaultHK is the process-wide housekeeper; Run it once at startup.
var DefaultHK = New()

func New() *housekeeper {
	return &housekeeper{
		items:   make(map[string]*item, 16),
		workCh:  make(chan request, 16),
		unregCh: make(chan string, 16),
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Reg registers f to run every interval, starting at now+interval.
func Reg(name string, f CleanupFunc, interval time.Duration) {
	DefaultHK.reg(name, f, interval)
}

func Unreg(name string) { DefaultHK.unreg(name) }

func (hk *housekeeper) reg(name string, f CleanupFunc, interval time.Duration) {
	hk.workCh <- request{name: name, f: f, interval: interval, initTime: time.Now()}
}

func (hk *housekeeper) unreg(name string) { hk.unregCh <- name }

// WaitStarted blocks until Run's event loop is live; used by tests that
// register before the goroutine driving Run has scheduled itself.
func WaitStarted() { <-DefaultHK.started }

func (hk *housekeeper) Run() {
	hk.once.Do(func() { close(hk.started) })
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case req := <-hk.workCh:
			it := &item{request: req, due: req.initTime.Add(req.interval)}
			hk.mu.Lock()
			if old, ok := hk.items[req.name]; ok {
				heap.Remove(&hk.heap, old.index)
			}
			hk.items[req.name] = it
			heap.Push(&hk.heap, it)
			hk.mu.Unlock()
		case name := <-hk.unregCh:
			hk.mu.Lock()
			if it, ok := hk.items[name]; ok {
				heap.Remove(&hk.heap, it.index)
				delete(hk.items, name)
			}
			hk.mu.Unlock()
		case now := <-ticker.C:
			hk.fire(now)
		case <-hk.stopCh:
			return
		}
	}
}

func (hk *housekeeper) Stop() { close(hk.stopCh) }

func (hk *housekeeper) fire(now time.Time) {
	var due []*item
	hk.mu.Lock()
	for len(hk.heap) > 0 && !hk.heap[0].due.After(now) {
		due = append(due, hk.heap[0])
		heap.Pop(&hk.heap)
	}
	hk.mu.Unlock()

	for _, it := range due {
		next := it.f()
		if next <= 0 {
			next = it.interval
		}
		it.due = now.Add(next)
		hk.mu.Lock()
		if _, ok := hk.items[it.name]; ok { // not unregistered meanwhile
			heap.Push(&hk.heap, it)
		}
		hk.mu.Unlock()
	}
}

// TestInit resets DefaultHK for hermetic tests.
func TestInit() { DefaultHK = New() }

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *itemHeap) Push(x any)         { it := x.(*item); it.index = len(*h); *h = append(*h, it) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
