package schedule

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"schedbot/internal/storage"
)

// ID identifies an entry. Zero is never a valid ID.
type ID uint32

// String renders the ID as users type it: 8 lowercase hex digits.
func (id ID) String() string { return fmt.Sprintf("%08x", uint32(id)) }

// ParseID accepts the hex form produced by String, with or without leading zeros.
func ParseID(s string) (ID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: bad id %q", ErrInvalidEntry, s)
	}
	return ID(v), nil
}

// Allocator draws IDs uniformly from the non-zero 32-bit space and retries
// until it finds one that is neither stored nor handed out to a concurrent
// caller. The generator is not cryptographic; IDs only need to be distinct.
type Allocator struct {
	store storage.Store

	mu       sync.Mutex
	rng      *rand.Rand
	reserved map[ID]struct{}
}

func NewAllocator(store storage.Store) *Allocator {
	var seed [16]byte
	_, _ = crand.Read(seed[:])
	src := rand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
	return &Allocator{
		store:    store,
		rng:      rand.New(src),
		reserved: map[ID]struct{}{},
	}
}

// Allocate returns an unused ID and reserves it until Release. There is no
// attempt bound; only ctx stops the search.
func (a *Allocator) Allocate(ctx context.Context) (ID, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		id, ok := a.draw()
		if !ok {
			continue
		}
		_, taken, err := a.store.FindOne(ctx, storage.Filter{ID: uint32(id)})
		if err != nil {
			a.Release(id)
			return 0, fmt.Errorf("allocate id: %w", err)
		}
		if !taken {
			return id, nil
		}
		a.Release(id)
	}
}

// draw picks a candidate and reserves it; ok is false on a zero draw or when
// the candidate is already reserved.
func (a *Allocator) draw() (ID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := ID(a.rng.Uint32())
	if id == 0 {
		return 0, false
	}
	if _, dup := a.reserved[id]; dup {
		return 0, false
	}
	a.reserved[id] = struct{}{}
	return id, true
}

func (a *Allocator) Release(id ID) {
	a.mu.Lock()
	delete(a.reserved, id)
	a.mu.Unlock()
}
