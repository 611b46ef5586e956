// file: pkg/storage/memstore.go
package storage

import (
	"sync"

	"github.com/daehankim/dagwave/pkg/consensus"
)

// MemStore is an in-memory stand-in for PebbleStore with the same persister
// surface. Used by tests and single-process simulations that exercise the
// recovery path without touching disk.
type MemStore struct {
	mu          sync.Mutex
	blocks      map[consensus.BlockRef]*consensus.VerifiedBlock
	order       []consensus.BlockRef
	commits     []*consensus.CommittedSubDag
	lastDecided *consensus.Slot
	lastCommit  *consensus.CommitRef
}

func NewMemStore() *MemStore {
	return &MemStore{blocks: make(map[consensus.BlockRef]*consensus.VerifiedBlock)}
}

func (s *MemStore) PutBlock(b *consensus.VerifiedBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := b.Ref()
	if _, ok := s.blocks[ref]; !ok {
		s.blocks[ref] = b
		s.order = append(s.order, ref)
	}
	return nil
}

// LoadBlocks returns blocks in acceptance order, which is causally safe for
// re-ingestion (a block is always accepted after its ancestors).
func (s *MemStore) LoadBlocks() ([]*consensus.VerifiedBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*consensus.VerifiedBlock, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, s.blocks[ref])
	}
	return out, nil
}

func (s *MemStore) PutCommit(sub *consensus.CommittedSubDag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, sub)
	ref := sub.Ref
	s.lastCommit = &ref
	return nil
}

func (s *MemStore) LoadCommits() []*consensus.CommittedSubDag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*consensus.CommittedSubDag(nil), s.commits...)
}

func (s *MemStore) PutLastDecided(slot consensus.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDecided = &slot
	return nil
}

func (s *MemStore) LastDecided() (consensus.Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDecided == nil {
		return consensus.Slot{}, false
	}
	return *s.lastDecided, true
}

func (s *MemStore) LastCommit() (consensus.CommitRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCommit == nil {
		return consensus.CommitRef{}, false
	}
	return *s.lastCommit, true
}

var _ consensus.BlockPersister = (*MemStore)(nil)
var _ consensus.CommitPersister = (*MemStore)(nil)
var _ consensus.SlotPersister = (*MemStore)(nil)
