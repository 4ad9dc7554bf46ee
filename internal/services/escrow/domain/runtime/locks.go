package runtime

import (
	"context"
	"slices"
	"sync"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

// lockTable grants per-address read/write locks. Callers acquire a whole
// set at once in address order, so two transactions can never wait on each
// other in a cycle.
type lockTable struct {
	mu      sync.Mutex
	entries map[address.Address]*lockEntry
}

type lockEntry struct {
	readers int
	writer  bool
	waiters int
	release chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[address.Address]*lockEntry)}
}

type lockRequest struct {
	addr  address.Address
	write bool
}

// acquire blocks until every requested lock is held or ctx ends. The
// returned func releases them.
func (t *lockTable) acquire(ctx context.Context, writes, reads map[address.Address]bool) (func(), error) {
	reqs := make([]lockRequest, 0, len(writes)+len(reads))
	for addr := range writes {
		reqs = append(reqs, lockRequest{addr: addr, write: true})
	}
	for addr := range reads {
		if !writes[addr] {
			reqs = append(reqs, lockRequest{addr: addr})
		}
	}
	slices.SortFunc(reqs, func(a, b lockRequest) int { return address.Compare(a.addr, b.addr) })

	held := make([]lockRequest, 0, len(reqs))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			t.unlock(held[i])
		}
	}
	for _, req := range reqs {
		if err := t.lock(ctx, req); err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, req)
	}
	return releaseAll, nil
}

func (t *lockTable) lock(ctx context.Context, req lockRequest) error {
	for {
		t.mu.Lock()
		entry := t.entries[req.addr]
		if entry == nil {
			entry = &lockEntry{release: make(chan struct{})}
			t.entries[req.addr] = entry
		}
		free := !entry.writer && (!req.write || entry.readers == 0)
		if free {
			if req.write {
				entry.writer = true
			} else {
				entry.readers++
			}
			t.mu.Unlock()
			return nil
		}
		wait := entry.release
		entry.waiters++
		t.mu.Unlock()

		select {
		case <-wait:
			t.mu.Lock()
			entry.waiters--
			t.mu.Unlock()
		case <-ctx.Done():
			t.mu.Lock()
			entry.waiters--
			t.gc(req.addr, entry)
			t.mu.Unlock()
			return apperrors.Wrap(apperrors.CodeAccountLocked, req.addr.String(), ctx.Err())
		}
	}
}

func (t *lockTable) unlock(req lockRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entries[req.addr]
	if entry == nil {
		return
	}
	if req.write {
		entry.writer = false
	} else {
		entry.readers--
	}
	close(entry.release)
	entry.release = make(chan struct{})
	t.gc(req.addr, entry)
}

// gc drops idle entries. Caller holds t.mu.
func (t *lockTable) gc(addr address.Address, entry *lockEntry) {
	if !entry.writer && entry.readers == 0 && entry.waiters == 0 {
		delete(t.entries, addr)
	}
}
