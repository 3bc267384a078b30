package storage

import (
	"context"
	"sync"
)

// journal receives every committed write of a memoryStore. append is called
// with the store lock held, before the write becomes visible; a failure
// rejects the write.
type journal interface {
	append(op journalOp, docs map[uint32]*Record) error
	close(docs map[uint32]*Record) error
}

type journalOp struct {
	Op  string  `json:"op"` // "put" or "del"
	ID  uint32  `json:"id"`
	Doc *Record `json:"doc,omitempty"`
}

type memoryStore struct {
	mu     sync.RWMutex
	docs   map[uint32]*Record
	closed bool
	j      journal
}

// NewMemory returns a process-local store. Records are copied on the way in
// and out so callers never share state with the store.
func NewMemory() Store {
	return &memoryStore{docs: map[uint32]*Record{}}
}

func (s *memoryStore) FindOne(ctx context.Context, f Filter) (*Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	if f.ID != 0 {
		r, ok := s.docs[f.ID]
		if !ok || !f.Match(r) {
			return nil, false, nil
		}
		return r.Clone(), true, nil
	}
	var best *Record
	for _, r := range s.docs {
		if f.Match(r) && (best == nil || r.ID < best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best.Clone(), true, nil
}

func (s *memoryStore) Find(ctx context.Context, f Filter) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*Record, 0)
	for _, r := range s.docs {
		if f.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memoryStore) Count(ctx context.Context, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, r := range s.docs {
		if f.Match(r) {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Insert(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return nack("insert", err)
	}
	if r == nil || r.ID == 0 {
		return nack("insert", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nack("insert", ErrClosed)
	}
	if _, ok := s.docs[r.ID]; ok {
		return ErrDuplicateID
	}
	return s.putLocked("insert", r.Clone())
}

func (s *memoryStore) Replace(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return nack("replace", err)
	}
	if r == nil || r.ID == 0 {
		return nack("replace", ErrInvalidRecord)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nack("replace", ErrClosed)
	}
	if _, ok := s.docs[r.ID]; !ok {
		return ErrNotFound
	}
	return s.putLocked("replace", r.Clone())
}

func (s *memoryStore) Update(ctx context.Context, id uint32, fn func(r *Record) error) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, nack("update", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nack("update", ErrClosed)
	}
	cur, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	if err := s.putLocked("update", next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (s *memoryStore) Delete(ctx context.Context, id uint32) error {
	if err := ctx.Err(); err != nil {
		return nack("delete", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nack("delete", ErrClosed)
	}
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	if s.j != nil {
		if err := s.j.append(journalOp{Op: "del", ID: id}, s.docs); err != nil {
			return nack("delete", err)
		}
	}
	delete(s.docs, id)
	return nil
}

func (s *memoryStore) putLocked(op string, r *Record) error {
	if s.j != nil {
		if err := s.j.append(journalOp{Op: "put", ID: r.ID, Doc: r}, s.docs); err != nil {
			return nack(op, err)
		}
	}
	s.docs[r.ID] = r
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.j != nil {
		return s.j.close(s.docs)
	}
	return nil
}
