package app

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestAccountLocker_ReleasesEntriesWhenUnused(t *testing.T) {
	locker := newAccountLocker()
	first, second := uuid.New(), uuid.New()

	unlock := locker.Lock(first, second, first)
	if locker.size() != 2 {
		t.Fatalf("expected 2 tracked accounts while held, got %d", locker.size())
	}
	unlock()
	if locker.size() != 0 {
		t.Fatalf("expected no tracked accounts after release, got %d", locker.size())
	}
}

func TestAccountLocker_SerializesAndCleansUpUnderContention(t *testing.T) {
	locker := newAccountLocker()
	shared := uuid.New()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock(shared, uuid.New())
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 32 {
		t.Fatalf("expected 32 serialized increments, got %d", counter)
	}
	if locker.size() != 0 {
		t.Fatalf("expected every entry to be removed, got %d", locker.size())
	}
}
