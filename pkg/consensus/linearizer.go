// file: pkg/consensus/linearizer.go
package consensus

import (
	"sort"
)

// Linearizer turns Commit decisions into CommittedSubDags: the causal
// history of the committed leader minus everything sealed by earlier
// commits, in deterministic topological order, with quorum-rejected
// transactions folded in.
//
// Reject-vote aggregation is a pure function of the commit prefix: only
// votes embedded in blocks of this and earlier sub-DAGs count. Replicas
// agree on the commit prefix, so they agree on every Rejected map even
// though their uncommitted DAG frontiers differ. Votes that reach quorum
// only after the target block's sub-DAG is sealed arrive too late and are
// dropped.
type Linearizer struct {
	committee *Committee
	dag       *DagStore
	votes     *voteAggregator
}

func NewLinearizer(committee *Committee, dag *DagStore) *Linearizer {
	return &Linearizer{
		committee: committee,
		dag:       dag,
		votes:     newVoteAggregator(committee),
	}
}

// Linearize materializes the sub-DAG of a committed leader and seals its
// blocks. Skip decisions never reach the linearizer. The returned sub-DAG
// has a zero Ref; the finalizer stamps it.
func (l *Linearizer) Linearize(leader *VerifiedBlock) *CommittedSubDag {
	blocks := l.collect(leader)

	// Ancestors always sit at strictly lower rounds, so sorting by
	// (round, author, digest) is a topological order and fixes ties for
	// reproducibility.
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Ref().Compare(blocks[j].Ref()) < 0
	})

	for _, b := range blocks {
		l.votes.addBlock(b, l.dag.IsCommitted)
	}
	rejected := make(map[BlockRef][]TransactionIndex)
	for _, b := range blocks {
		ref := b.Ref()
		if idxs := l.votes.seal(ref); len(idxs) > 0 {
			rejected[ref] = idxs
		}
		l.dag.MarkCommitted(ref)
	}

	return &CommittedSubDag{
		Leader:    leader.Ref(),
		Blocks:    blocks,
		Rejected:  rejected,
		Timestamp: leader.Timestamp,
	}
}

// ReplayCommitted restores the exclusion set and the vote tallies from a
// persisted commit during restart recovery. Commits must be replayed in
// index order; the resulting state matches a run that produced them live.
func (l *Linearizer) ReplayCommitted(sub *CommittedSubDag) {
	for _, b := range sub.Blocks {
		l.votes.addBlock(b, l.dag.IsCommitted)
	}
	for _, b := range sub.Blocks {
		ref := b.Ref()
		l.votes.seal(ref)
		l.dag.MarkCommitted(ref)
	}
}

// collect walks ancestor links from the leader, stopping at blocks already
// sealed by an earlier commit.
func (l *Linearizer) collect(leader *VerifiedBlock) []*VerifiedBlock {
	var blocks []*VerifiedBlock
	visited := map[BlockRef]struct{}{leader.Ref(): {}}
	stack := []*VerifiedBlock{leader}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		blocks = append(blocks, b)
		for _, a := range b.Ancestors {
			if _, ok := visited[a]; ok {
				continue
			}
			visited[a] = struct{}{}
			if l.dag.IsCommitted(a) {
				continue
			}
			stack = append(stack, l.dag.MustGet(a))
		}
	}
	return blocks
}

// voteAggregator accumulates reject votes per (target block, transaction)
// from distinct authorities, across commits. Entries are dropped once the
// target block's sub-DAG is sealed.
type voteAggregator struct {
	committee *Committee
	// target block -> tx index -> voting authorities
	votes map[BlockRef]map[TransactionIndex]map[AuthorityIndex]struct{}
}

func newVoteAggregator(c *Committee) *voteAggregator {
	return &voteAggregator{
		committee: c,
		votes:     make(map[BlockRef]map[TransactionIndex]map[AuthorityIndex]struct{}),
	}
}

// addBlock tallies b's reject votes. sealed filters out targets whose
// sub-DAG was already emitted; their rejection sets are final and late
// votes against them must not accumulate.
func (v *voteAggregator) addBlock(b *VerifiedBlock, sealed func(BlockRef) bool) {
	for _, tv := range b.TransactionVotes {
		if sealed(tv.Block) {
			continue
		}
		byTx := v.votes[tv.Block]
		if byTx == nil {
			byTx = make(map[TransactionIndex]map[AuthorityIndex]struct{})
			v.votes[tv.Block] = byTx
		}
		for _, idx := range tv.Rejects {
			voters := byTx[idx]
			if voters == nil {
				voters = make(map[AuthorityIndex]struct{})
				byTx[idx] = voters
			}
			voters[b.Author] = struct{}{}
		}
	}
}

// seal returns the sorted transaction indices of the target block whose
// reject votes reach quorum stake, and forgets the block's tally.
func (v *voteAggregator) seal(target BlockRef) []TransactionIndex {
	byTx, ok := v.votes[target]
	if !ok {
		return nil
	}
	delete(v.votes, target)
	var rejected []TransactionIndex
	for idx, voters := range byTx {
		agg := NewStakeAggregator(v.committee)
		for a := range voters {
			agg.Add(a)
		}
		if agg.ReachedQuorum() {
			rejected = append(rejected, idx)
		}
	}
	sort.Slice(rejected, func(i, j int) bool { return rejected[i] < rejected[j] })
	return rejected
}
