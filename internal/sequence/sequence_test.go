package sequence

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestNext_Format(t *testing.T) {
	g := NewWithInstance("relay01")

	got := g.Next()
	if got != "relay01-1" {
		t.Errorf("expected first id relay01-1, got: %s", got)
	}

	got = g.Next()
	if got != "relay01-2" {
		t.Errorf("expected second id relay01-2, got: %s", got)
	}
}

func TestNext_CounterStartsAtOne(t *testing.T) {
	g := New()

	id := g.Next()
	if !strings.HasSuffix(id, "-1") {
		t.Errorf("first id should end in -1, got: %s", id)
	}
	if g.Current() != 1 {
		t.Errorf("expected counter 1 after one call, got: %d", g.Current())
	}
}

func TestNext_ConcurrentUnique(t *testing.T) {
	g := New()

	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("duplicate id issued: %s", id)
				}
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("expected %d distinct ids, got: %d", workers*perWorker, len(seen))
	}
}

func TestNew_DistinctInstances(t *testing.T) {
	a := New()
	b := New()

	if a.Instance() == b.Instance() {
		t.Errorf("two generators should get distinct instance tokens, both got: %s", a.Instance())
	}
	if a.Instance() == "" {
		t.Error("instance token should not be empty")
	}
}

func TestNext_InstancePrefixStable(t *testing.T) {
	g := New()
	want := g.Instance()

	for i := 1; i <= 5; i++ {
		id := g.Next()
		expected := fmt.Sprintf("%s-%d", want, i)
		if id != expected {
			t.Errorf("expected %s, got: %s", expected, id)
		}
	}
}
