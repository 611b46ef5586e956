// file: pkg/consensus/dag.go
package consensus

import (
	"fmt"
	"sort"
	"sync"
)

// BlockPersister is the optional write-through hook the DAG store calls on
// every insert. Implemented by pkg/storage; nil means in-memory only.
type BlockPersister interface {
	PutBlock(b *VerifiedBlock) error
}

// DagStore is the append-only, content-addressed block arena. Blocks are
// keyed by BlockRef; per-round and per-slot indexes serve the committer's
// lookups. Writers publish a block only after all its fields are indexed,
// so readers never observe a partially-inserted block.
//
// Blocks are never deleted within the epoch. The committed set grows
// monotonically as the linearizer seals sub-DAGs.
type DagStore struct {
	mu sync.RWMutex

	blocks  map[BlockRef]*VerifiedBlock
	byRound map[Round]map[AuthorityIndex][]*VerifiedBlock // digest-sorted per slot

	committed    map[BlockRef]struct{}
	highestRound Round

	persist BlockPersister
}

func NewDagStore(persist BlockPersister) *DagStore {
	return &DagStore{
		blocks:    make(map[BlockRef]*VerifiedBlock),
		byRound:   make(map[Round]map[AuthorityIndex][]*VerifiedBlock),
		committed: make(map[BlockRef]struct{}),
		persist:   persist,
	}
}

// Add inserts a causally-complete block. The caller (block manager) has
// already checked that every ancestor is present. Re-adding an existing
// block is a no-op.
func (d *DagStore) Add(b *VerifiedBlock) error {
	ref := b.Ref()

	d.mu.Lock()
	if _, ok := d.blocks[ref]; ok {
		d.mu.Unlock()
		return nil
	}
	d.blocks[ref] = b
	slot := d.byRound[ref.Round]
	if slot == nil {
		slot = make(map[AuthorityIndex][]*VerifiedBlock)
		d.byRound[ref.Round] = slot
	}
	blocks := append(slot[ref.Author], b)
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Digest().Compare(blocks[j].Digest()) < 0
	})
	slot[ref.Author] = blocks
	if ref.Round > d.highestRound {
		d.highestRound = ref.Round
	}
	d.mu.Unlock()

	if d.persist != nil {
		if err := d.persist.PutBlock(b); err != nil {
			return fmt.Errorf("persist block %s: %w", ref, err)
		}
	}
	return nil
}

func (d *DagStore) Contains(ref BlockRef) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.blocks[ref]
	return ok
}

func (d *DagStore) Get(ref BlockRef) (*VerifiedBlock, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.blocks[ref]
	return b, ok
}

// MustGet panics when the block is absent. Used where absence would violate
// the causal-completeness invariant (a stored block's ancestor is always
// stored); hitting the panic means the DAG is corrupt.
func (d *DagStore) MustGet(ref BlockRef) *VerifiedBlock {
	b, ok := d.Get(ref)
	if !ok {
		panic(fmt.Sprintf("dag: missing ancestor %s of a stored block", ref))
	}
	return b
}

// BlocksAtRound returns every stored block of the round, ordered by
// (author, digest).
func (d *DagStore) BlocksAtRound(r Round) []*VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	slot := d.byRound[r]
	authors := make([]AuthorityIndex, 0, len(slot))
	for a := range slot {
		authors = append(authors, a)
	}
	sort.Slice(authors, func(i, j int) bool { return authors[i] < authors[j] })
	var out []*VerifiedBlock
	for _, a := range authors {
		out = append(out, slot[a]...)
	}
	return out
}

// BlocksAtSlot returns the block(s) an authority produced at a round,
// digest-sorted. More than one entry means the author equivocated.
func (d *DagStore) BlocksAtSlot(s Slot) []*VerifiedBlock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byRound[s.Round][s.Author]
}

// AuthorsAtRound returns the distinct authorities with at least one stored
// block at the round, ascending.
func (d *DagStore) AuthorsAtRound(r Round) []AuthorityIndex {
	d.mu.RLock()
	defer d.mu.RUnlock()
	slot := d.byRound[r]
	authors := make([]AuthorityIndex, 0, len(slot))
	for a := range slot {
		authors = append(authors, a)
	}
	sort.Slice(authors, func(i, j int) bool { return authors[i] < authors[j] })
	return authors
}

func (d *DagStore) HighestRound() Round {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.highestRound
}

func (d *DagStore) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.blocks)
}

// MarkCommitted seals a block into the exclusion set so later
// linearizations never re-include it.
func (d *DagStore) MarkCommitted(ref BlockRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.committed[ref] = struct{}{}
}

func (d *DagStore) IsCommitted(ref BlockRef) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.committed[ref]
	return ok
}
