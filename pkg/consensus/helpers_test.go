// file: pkg/consensus/helpers_test.go
package consensus_test

import (
	"math/rand"
	"testing"

	"github.com/daehankim/dagwave/pkg/consensus"
	"github.com/daehankim/dagwave/pkg/consensus/dagtest"
)

// fixture wires one authority's full pipeline around an in-memory DAG:
// manager -> committer -> linearizer -> finalizer, collecting finalized
// sub-DAGs. Every test authority gets an independent fixture; the only
// thing they share is the block set fed in.
type fixture struct {
	committee  *consensus.Committee
	dag        *consensus.DagStore
	manager    *consensus.BlockManager
	schedule   *consensus.LeaderSchedule
	committer  *consensus.Committer
	linearizer *consensus.Linearizer
	finalizer  *consensus.Finalizer

	lastDecided consensus.Slot
	statuses    []consensus.LeaderStatus
	commits     []*consensus.CommittedSubDag
}

func newFixture(t *testing.T, committee *consensus.Committee) *fixture {
	t.Helper()
	dag := consensus.NewDagStore(nil)
	schedule := consensus.NewLeaderSchedule(committee)
	f := &fixture{
		committee:  committee,
		dag:        dag,
		manager:    consensus.NewBlockManager(committee, dag, nil),
		schedule:   schedule,
		committer:  consensus.NewCommitter(committee, dag, schedule, nil),
		linearizer: consensus.NewLinearizer(committee, dag),
		finalizer:  consensus.NewFinalizer(consensus.CommitRef{}, nil, nil),
	}
	f.add(t, consensus.GenesisBlocks(committee))
	return f
}

// add feeds blocks through the manager and drains every decision the
// committer can now make.
func (f *fixture) add(t *testing.T, blocks []*consensus.VerifiedBlock) consensus.AcceptedBlocks {
	t.Helper()
	accepted, err := f.manager.TryAcceptBlocks(blocks)
	if err != nil {
		t.Fatalf("accept blocks: %v", err)
	}
	f.drain(t)
	return accepted
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for _, status := range f.committer.TryDecide(f.lastDecided) {
		f.statuses = append(f.statuses, status)
		f.lastDecided = status.Slot
		if status.Kind != consensus.LeaderCommit {
			continue
		}
		sub, err := f.finalizer.Finalize(f.linearizer.Linearize(status.Block))
		if err != nil {
			t.Fatalf("finalize: %v", err)
		}
		f.commits = append(f.commits, sub)
	}
}

// committedRefs flattens every committed block ref across all commits, in
// emission order.
func (f *fixture) committedRefs() []consensus.BlockRef {
	var out []consensus.BlockRef
	for _, sub := range f.commits {
		for _, b := range sub.Blocks {
			out = append(out, b.Ref())
		}
	}
	return out
}

// assertNoDuplicateBlocks checks that no block appears in two sub-DAGs.
func assertNoDuplicateBlocks(t *testing.T, commits []*consensus.CommittedSubDag) {
	t.Helper()
	seen := make(map[consensus.BlockRef]uint64)
	for _, sub := range commits {
		for _, b := range sub.Blocks {
			ref := b.Ref()
			if prior, ok := seen[ref]; ok {
				t.Fatalf("block %s included in commits %d and %d", ref, prior, sub.Ref.Index)
			}
			seen[ref] = sub.Ref.Index
		}
	}
}

// buildJaggedDag builds rounds of uneven connectivity where every block
// still cites the previous round's leader. Every round-R+1 block then votes
// for the round-R leader and every round-R+2 block is a certificate, so
// every slot resolves to Commit while sub-DAG shapes and reject votes vary
// with the seed.
func buildJaggedDag(committee *consensus.Committee, seed int64, rounds int) []*consensus.VerifiedBlock {
	schedule := consensus.NewLeaderSchedule(committee)
	builder := dagtest.NewBuilder(committee, seed)
	rng := rand.New(rand.NewSource(seed))

	for builder.LastRound() < consensus.Round(rounds) {
		leaderRef, ok := builder.Ref(schedule.LeaderForRound(builder.LastRound()))
		if !ok {
			panic("jagged dag: previous leader produced no block")
		}
		prev := builder.PrevRefs()
		spec := dagtest.RoundSpec{
			Links: make(map[consensus.AuthorityIndex][]consensus.BlockRef),
			Votes: make(map[consensus.AuthorityIndex][]consensus.TransactionVote),
		}
		for i := 0; i < committee.Size(); i++ {
			author := consensus.AuthorityIndex(i)
			links := jaggedLinks(rng, committee, prev, leaderRef)
			spec.Links[author] = links
			if rng.Float64() < 0.3 {
				if v, ok := voteAgainstLinked(rng, author, links); ok {
					spec.Votes[author] = []consensus.TransactionVote{v}
				}
			}
		}
		builder.AddRound(spec)
	}
	return builder.Blocks()
}

// jaggedLinks picks the leader's block plus a random quorum-covering subset
// of the rest of the previous round.
func jaggedLinks(rng *rand.Rand, committee *consensus.Committee, prev []consensus.BlockRef, leader consensus.BlockRef) []consensus.BlockRef {
	rest := make([]consensus.BlockRef, 0, len(prev)-1)
	for _, ref := range prev {
		if ref != leader {
			rest = append(rest, ref)
		}
	}
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	agg := consensus.NewStakeAggregator(committee)
	agg.Add(leader.Author)
	links := []consensus.BlockRef{leader}
	for _, ref := range rest {
		if !agg.ReachedQuorum() || rng.Intn(2) == 0 {
			links = append(links, ref)
			agg.Add(ref.Author)
		}
	}
	consensus.SortAncestors(links)
	return links
}

func voteAgainstLinked(rng *rand.Rand, author consensus.AuthorityIndex, links []consensus.BlockRef) (consensus.TransactionVote, bool) {
	candidates := make([]consensus.BlockRef, 0, len(links))
	for _, ref := range links {
		if ref.Author != author && ref.Round > 0 {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return consensus.TransactionVote{}, false
	}
	return consensus.TransactionVote{
		Block:   candidates[rng.Intn(len(candidates))],
		Rejects: []consensus.TransactionIndex{consensus.TransactionIndex(rng.Intn(2))},
	}, true
}

// assertCausalClosure checks that every ancestor of every committed block
// was committed in the same or an earlier sub-DAG.
func assertCausalClosure(t *testing.T, commits []*consensus.CommittedSubDag) {
	t.Helper()
	committed := make(map[consensus.BlockRef]struct{})
	for _, sub := range commits {
		for _, b := range sub.Blocks {
			committed[b.Ref()] = struct{}{}
		}
		for _, b := range sub.Blocks {
			for _, a := range b.Ancestors {
				if _, ok := committed[a]; !ok {
					t.Fatalf("commit %d contains %s citing uncommitted ancestor %s",
						sub.Ref.Index, b.Ref(), a)
				}
			}
		}
	}
}
