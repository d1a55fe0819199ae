package idgen_test

import (
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/artpar/metergate/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	g := idgen.NewAccountIDs()

	id := g.New()

	re := regexp.MustCompile(`^acct_[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !re.MatchString(id) {
		t.Errorf("ID %s doesn't match acct_ + UUID v4 format", id)
	}
}

func TestRequestIDs(t *testing.T) {
	if id := idgen.NewRequestIDs().New(); !strings.HasPrefix(id, "req_") {
		t.Errorf("request id %s should start with req_", id)
	}
}

func TestUUID_New_Unique(t *testing.T) {
	g := idgen.NewAccountIDs()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.New()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSequential(t *testing.T) {
	g := idgen.NewSequential("acct_")

	if got := g.New(); got != "acct_1" {
		t.Errorf("first ID = %s, want acct_1", got)
	}
	if got := g.New(); got != "acct_2" {
		t.Errorf("second ID = %s, want acct_2", got)
	}
}

func TestSequential_Concurrent(t *testing.T) {
	g := idgen.NewSequential("")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.New()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Errorf("got %d unique IDs, want 50", len(seen))
	}
}
