package queue

import (
	"fmt"
	"sync"
	"testing"
)

func TestNewFrontier(t *testing.T) {
	f := NewFrontier()
	if f.Len() != 0 {
		t.Errorf("New frontier Len() = %d, want 0", f.Len())
	}
	if _, ok := f.Pop(); ok {
		t.Error("Pop() on empty frontier returned ok=true")
	}
}

func TestFrontier_AddAndPop(t *testing.T) {
	f := NewFrontier()
	if !f.Add(Item{URL: "https://example.com/", Depth: 0}, 0) {
		t.Fatal("Add() of new URL returned false")
	}
	if f.Len() != 1 {
		t.Errorf("After Add, Len() = %d, want 1", f.Len())
	}

	item, ok := f.Pop()
	if !ok || item.URL != "https://example.com/" {
		t.Errorf("Pop() = (%+v, %v)", item, ok)
	}
	if f.Len() != 0 {
		t.Errorf("After Pop, Len() = %d, want 0", f.Len())
	}
}

func TestFrontier_PriorityOrdering(t *testing.T) {
	f := NewFrontier()
	f.Add(Item{URL: "p2", Depth: 2}, 2)
	f.Add(Item{URL: "p0", Depth: 0}, 0)
	f.Add(Item{URL: "p1", Depth: 1}, 1)
	f.Add(Item{URL: "p3", Depth: 3}, 3)

	for i, expected := range []string{"p0", "p1", "p2", "p3"} {
		item, ok := f.Pop()
		if !ok {
			t.Fatalf("Pop() #%d returned ok=false", i)
		}
		if item.URL != expected {
			t.Errorf("Pop() #%d URL = %q, want %q", i, item.URL, expected)
		}
	}
}

func TestFrontier_SamePriorityIsFIFO(t *testing.T) {
	f := NewFrontier()
	for i := 0; i < 10; i++ {
		f.Add(Item{URL: fmt.Sprintf("u%d", i), Depth: 1}, 1)
	}
	for i := 0; i < 10; i++ {
		item, _ := f.Pop()
		if want := fmt.Sprintf("u%d", i); item.URL != want {
			t.Errorf("Pop() #%d = %q, want %q", i, item.URL, want)
		}
	}
}

func TestFrontier_Deduplicates(t *testing.T) {
	f := NewFrontier()
	if !f.Add(Item{URL: "a"}, 0) {
		t.Fatal("first Add returned false")
	}
	if f.Add(Item{URL: "a", Depth: 1}, 1) {
		t.Error("duplicate Add returned true")
	}
	f.Pop()
	if f.Add(Item{URL: "a"}, 0) {
		t.Error("re-adding a popped URL should still be rejected")
	}
	if !f.Seen("a") || f.Seen("b") {
		t.Error("Seen() mismatch")
	}
}

func TestFrontier_ConcurrentAdds(t *testing.T) {
	f := NewFrontier()
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if f.Add(Item{URL: fmt.Sprintf("u%d", i)}, i) {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if accepted != 50 {
		t.Errorf("accepted %d unique URLs, want 50", accepted)
	}
	if f.Len() != 50 {
		t.Errorf("Len() = %d, want 50", f.Len())
	}
}
