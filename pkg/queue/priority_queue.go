package queue

import (
	"container/heap"
	"sync"
)

// Item is one frontier entry for breadth-first link harvesting
type Item struct {
	URL   string
	Depth int
}

// pqItem wraps an Item with its heap bookkeeping
type pqItem struct {
	item     Item
	priority int    // lower pops first
	seq      uint64 // insertion order breaks ties, keeping traversal breadth-first and deterministic
	index    int
}

// PriorityQueue implements heap.Interface
type PriorityQueue []*pqItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the heap
func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pqItem)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes and returns the minimum element from the heap
func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

// Frontier is a thread-safe, de-duplicating priority queue of URLs.
// A URL is accepted at most once for the lifetime of the frontier.
type Frontier struct {
	pq   PriorityQueue
	seen map[string]struct{}
	seq  uint64
	mu   sync.Mutex
}

// NewFrontier creates an empty frontier
func NewFrontier() *Frontier {
	f := &Frontier{seen: make(map[string]struct{})}
	heap.Init(&f.pq)
	return f
}

// Add queues item with the given priority. Returns false if the URL was already seen.
func (f *Frontier) Add(item Item, priority int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[item.URL]; ok {
		return false
	}
	f.seen[item.URL] = struct{}{}
	f.seq++
	heap.Push(&f.pq, &pqItem{item: item, priority: priority, seq: f.seq})
	return true
}

// Pop removes the highest-priority item. ok is false when the frontier is empty.
func (f *Frontier) Pop() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pq) == 0 {
		return Item{}, false
	}
	return heap.Pop(&f.pq).(*pqItem).item, true
}

// Seen reports whether url was ever added
func (f *Frontier) Seen(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[url]
	return ok
}

// Len returns the number of queued items
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pq)
}
