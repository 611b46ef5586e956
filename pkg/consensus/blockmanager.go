// file: pkg/consensus/blockmanager.go
package consensus

import (
	"fmt"

	"go.uber.org/zap"
)

// AcceptedBlocks reports the outcome of one TryAcceptBlocks call.
// Accepted lists blocks inserted into the DAG this call, in acceptance
// order (released suspendees included). Suspended lists the refs of input
// blocks held back on missing ancestors.
type AcceptedBlocks struct {
	Accepted  []*VerifiedBlock
	Suspended []BlockRef
}

type suspendedBlock struct {
	block   *VerifiedBlock
	missing map[BlockRef]struct{}
}

// BlockManager is the ingestion boundary of the core. It accepts verified
// blocks whose ancestors are all present, and suspends the rest until the
// missing ancestors arrive. Releasing one block re-checks everything that
// was waiting on it, transitively.
type BlockManager struct {
	committee *Committee
	dag       *DagStore
	log       *zap.SugaredLogger

	suspended map[BlockRef]*suspendedBlock
	waiters   map[BlockRef][]BlockRef // missing ancestor -> suspended refs waiting on it

	// ownVotes holds this authority's locally computed reject votes, keyed
	// by target block. Consumed by the (external) proposer when it builds
	// the next block; never folded into commit aggregation directly.
	ownVotes map[BlockRef][]TransactionIndex
}

func NewBlockManager(committee *Committee, dag *DagStore, log *zap.SugaredLogger) *BlockManager {
	return &BlockManager{
		committee: committee,
		dag:       dag,
		log:       log,
		suspended: make(map[BlockRef]*suspendedBlock),
		waiters:   make(map[BlockRef][]BlockRef),
		ownVotes:  make(map[BlockRef][]TransactionIndex),
	}
}

// TryAcceptBlocks offers a batch of verified blocks to the DAG. Blocks with
// missing ancestors are suspended, not rejected; a later batch containing
// the ancestors releases them. Storage errors abort the call; re-offering
// the same batch after the store recovers is safe (inserts are idempotent).
func (m *BlockManager) TryAcceptBlocks(blocks []*VerifiedBlock) (AcceptedBlocks, error) {
	var res AcceptedBlocks
	for _, b := range blocks {
		ref := b.Ref()
		if m.dag.Contains(ref) {
			continue
		}
		if _, ok := m.suspended[ref]; ok {
			continue
		}
		missing := m.missingAncestors(b)
		if len(missing) > 0 {
			m.suspend(b, missing)
			res.Suspended = append(res.Suspended, ref)
			continue
		}
		accepted, err := m.accept(b)
		if err != nil {
			return res, err
		}
		res.Accepted = append(res.Accepted, accepted...)
	}
	return res, nil
}

// TryAcceptBlocksWithOwnVotes is TryAcceptBlocks plus recording this
// authority's reject votes against transactions in the offered blocks'
// ancestors. The proposer drains them via OwnVotes.
func (m *BlockManager) TryAcceptBlocksWithOwnVotes(blocks []*VerifiedBlock, votes []TransactionVote) (AcceptedBlocks, error) {
	for _, v := range votes {
		m.ownVotes[v.Block] = mergeVoteIndices(m.ownVotes[v.Block], v.Rejects)
	}
	return m.TryAcceptBlocks(blocks)
}

// OwnVotes returns this authority's recorded reject votes for a block.
func (m *BlockManager) OwnVotes(ref BlockRef) []TransactionIndex {
	return m.ownVotes[ref]
}

// HasNoSuspendedBlocks is true iff every block ever offered has been
// accepted. A steady false indicates missing ancestors that need backfill.
func (m *BlockManager) HasNoSuspendedBlocks() bool {
	return len(m.suspended) == 0
}

// MissingAncestors lists the ancestor refs currently blocking suspended
// blocks, for the (external) synchronizer to fetch. Refs that are merely
// suspended themselves are excluded; re-fetching those gains nothing.
func (m *BlockManager) MissingAncestors() []BlockRef {
	out := make([]BlockRef, 0, len(m.waiters))
	for ref := range m.waiters {
		if _, ok := m.suspended[ref]; ok {
			continue
		}
		out = append(out, ref)
	}
	return out
}

func (m *BlockManager) missingAncestors(b *VerifiedBlock) []BlockRef {
	var missing []BlockRef
	for _, a := range b.Ancestors {
		if !m.dag.Contains(a) {
			missing = append(missing, a)
		}
	}
	return missing
}

func (m *BlockManager) suspend(b *VerifiedBlock, missing []BlockRef) {
	ref := b.Ref()
	s := &suspendedBlock{block: b, missing: make(map[BlockRef]struct{}, len(missing))}
	for _, a := range missing {
		s.missing[a] = struct{}{}
		m.waiters[a] = append(m.waiters[a], ref)
	}
	m.suspended[ref] = s
	if m.log != nil {
		m.log.Debugw("block_suspended", "block", ref.String(), "missing", len(missing))
	}
}

// accept inserts b and walks the waiter index releasing every suspended
// block whose last missing ancestor just arrived. Returns all blocks
// inserted, in insertion order.
func (m *BlockManager) accept(b *VerifiedBlock) ([]*VerifiedBlock, error) {
	queue := []*VerifiedBlock{b}
	var accepted []*VerifiedBlock
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		ref := next.Ref()
		if err := m.dag.Add(next); err != nil {
			return accepted, fmt.Errorf("accept %s: %w", ref, err)
		}
		accepted = append(accepted, next)

		for _, waiter := range m.waiters[ref] {
			s, ok := m.suspended[waiter]
			if !ok {
				continue
			}
			delete(s.missing, ref)
			if len(s.missing) == 0 {
				delete(m.suspended, waiter)
				queue = append(queue, s.block)
			}
		}
		delete(m.waiters, ref)
	}
	return accepted, nil
}

func mergeVoteIndices(have, add []TransactionIndex) []TransactionIndex {
	seen := make(map[TransactionIndex]struct{}, len(have)+len(add))
	for _, i := range have {
		seen[i] = struct{}{}
	}
	for _, i := range add {
		if _, ok := seen[i]; !ok {
			seen[i] = struct{}{}
			have = append(have, i)
		}
	}
	return have
}
