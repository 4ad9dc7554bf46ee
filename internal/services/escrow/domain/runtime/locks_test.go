package runtime

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/louisbranch/taskescrow/internal/platform/errors"
	"github.com/louisbranch/taskescrow/internal/services/escrow/domain/address"
)

func TestLockTableWriterExcludes(t *testing.T) {
	table := newLockTable()
	addr := address.Address{1}
	release, err := table.acquire(context.Background(), map[address.Address]bool{addr: true}, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	acquired := make(chan func(), 1)
	go func() {
		second, err := table.acquire(context.Background(), nil, map[address.Address]bool{addr: true})
		if err != nil {
			t.Errorf("second acquire: %v", err)
			acquired <- func() {}
			return
		}
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired while writer held the lock")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	select {
	case second := <-acquired:
		second()
	case <-time.After(time.Second):
		t.Fatal("reader never acquired after release")
	}
	if len(table.entries) != 0 {
		t.Fatalf("entries = %d, want 0 after release", len(table.entries))
	}
}

func TestLockTableReadersShare(t *testing.T) {
	table := newLockTable()
	addr := address.Address{2}
	reads := map[address.Address]bool{addr: true}
	first, err := table.acquire(context.Background(), nil, reads)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := table.acquire(context.Background(), nil, reads)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	first()
	second()
}

func TestLockTableHonorsContext(t *testing.T) {
	table := newLockTable()
	addr := address.Address{3}
	release, err := table.acquire(context.Background(), map[address.Address]bool{addr: true}, nil)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = table.acquire(ctx, map[address.Address]bool{addr: true}, nil)
	if apperrors.CodeOf(err) != apperrors.CodeAccountLocked {
		t.Fatalf("err = %v, want AccountLocked", err)
	}
}
