package app

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// accountLocker serializes money movement per account inside this process. The store
// still takes row locks; this keeps two local requests from racing to the database.
// An account's entry lives only while someone holds or waits for it.
type accountLocker struct {
	mapMu sync.Mutex
	locks map[uuid.UUID]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocker() *accountLocker {
	return &accountLocker{locks: make(map[uuid.UUID]*accountLock)}
}

func (l *accountLocker) acquire(accountID uuid.UUID) *accountLock {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	lock, ok := l.locks[accountID]
	if !ok {
		lock = &accountLock{}
		l.locks[accountID] = lock
	}
	lock.refs++
	return lock
}

func (l *accountLocker) release(accountID uuid.UUID, lock *accountLock) {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, accountID)
	}
}

// Lock acquires the locks of every distinct account in a fixed order to avoid
// deadlocks, and returns a function that releases them.
func (l *accountLocker) Lock(accountIDs ...uuid.UUID) func() {
	seen := make(map[uuid.UUID]struct{}, len(accountIDs))
	ordered := make([]uuid.UUID, 0, len(accountIDs))
	for _, id := range accountIDs {
		if id == uuid.Nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})

	held := make([]*accountLock, 0, len(ordered))
	for _, id := range ordered {
		lock := l.acquire(id)
		lock.mu.Lock()
		held = append(held, lock)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(ordered[i], held[i])
		}
	}
}

func (l *accountLocker) size() int {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	return len(l.locks)
}
