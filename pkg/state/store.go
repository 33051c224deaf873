package state

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var errCreatePanicked = errors.New("state: create panicked")

// Store attaches write-once values to execution nodes. The zero value is not
// usable; construct with New.
//
// Entries live in a sync.Map so distinct nodes never contend on a global lock
// and so the write path is a single LoadOrStore (compare-and-set).
type Store struct {
	entries sync.Map // identifier -> *cell
}

// cell is the unit stored per Ref. ready is closed once value/err are final.
type cell struct {
	ref   Ref
	ready chan struct{}
	value any
	err   error
}

func newCell(ref Ref) *cell {
	return &cell{ref: ref, ready: make(chan struct{})}
}

func settledCell(ref Ref, value any) *cell {
	c := newCell(ref)
	c.value = value
	close(c.ready)
	return c
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Put stores value under ref. It fails with *DuplicateKeyError when ref is
// already occupied, leaving the existing entry untouched.
func (s *Store) Put(ref Ref, value any) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	if _, loaded := s.entries.LoadOrStore(key, settledCell(ref, value)); loaded {
		return &DuplicateKeyError{Ref: ref}
	}
	return nil
}

// Get returns the value stored under ref. Entries still being created by
// LoadOrCreate are reported as absent.
func (s *Store) Get(ref Ref) (any, bool) {
	key, err := ref.Identifier()
	if err != nil {
		return nil, false
	}
	raw, ok := s.entries.Load(key)
	if !ok {
		return nil, false
	}
	c := raw.(*cell)
	select {
	case <-c.ready:
	default:
		return nil, false
	}
	if c.err != nil {
		return nil, false
	}
	return c.value, true
}

// Load is a typed Get. A value of another type is reported as absent.
func Load[T any](s *Store, ref Ref) (T, bool) {
	var zero T
	raw, ok := s.Get(ref)
	if !ok {
		return zero, false
	}
	value, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return value, true
}

// LoadOrCreate returns the value under ref, calling create when the entry is
// missing. Concurrent first callers race on a single compare-and-set: exactly
// one runs create and the rest wait for its result. A failed create leaves the
// key empty and every waiter of that attempt receives the same error.
func (s *Store) LoadOrCreate(ctx context.Context, ref Ref, create func(context.Context) (any, error)) (any, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return nil, false, err
	}
	fresh := newCell(ref)
	raw, loaded := s.entries.LoadOrStore(key, fresh)
	c := raw.(*cell)
	if loaded {
		<-c.ready
		return c.value, false, c.err
	}

	settled := false
	defer func() {
		if !settled {
			c.err = errCreatePanicked
			close(c.ready)
			s.entries.CompareAndDelete(key, c)
		}
	}()
	value, createErr := create(ctx)
	settled = true
	if createErr != nil {
		c.err = createErr
		close(c.ready)
		s.entries.CompareAndDelete(key, c)
		return nil, false, createErr
	}
	c.value = value
	close(c.ready)
	return value, true, nil
}

// Delete removes the entry under ref and reports whether it existed.
func (s *Store) Delete(ref Ref) bool {
	key, err := ref.Identifier()
	if err != nil {
		return false
	}
	_, ok := s.entries.LoadAndDelete(key)
	return ok
}

// DropNode removes every entry attached to node and returns how many were
// dropped.
func (s *Store) DropNode(node string) int {
	prefix := "node/" + strings.TrimSpace(node) + "/"
	dropped := 0
	s.entries.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			if _, ok := s.entries.LoadAndDelete(key); ok {
				dropped++
			}
		}
		return true
	})
	return dropped
}

// Len returns the number of settled entries.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, raw any) bool {
		c := raw.(*cell)
		select {
		case <-c.ready:
			if c.err == nil {
				n++
			}
		default:
		}
		return true
	})
	return n
}
