// file: pkg/consensus/dagtest/builder.go
//
// Package dagtest builds deterministic DAGs for committer and linearizer
// tests: round-by-round construction with controllable connectivity,
// skipped leaders, equivocators and embedded reject votes, plus seeded
// randomized shapes and delivery-order shuffling for the differential
// agreement tests.
package dagtest

import (
	"fmt"
	"math/rand"

	"github.com/daehankim/dagwave/pkg/consensus"
	"github.com/daehankim/dagwave/pkg/crypto"
)

// RoundSpec controls one round of block production. The zero value yields
// a fully-connected round: every authority produces a block citing every
// canonical block of the previous round.
type RoundSpec struct {
	// Skip lists authorities that produce no block this round.
	Skip []consensus.AuthorityIndex
	// Links overrides the ancestor refs of an author's block. Defaults to
	// all canonical previous-round refs.
	Links map[consensus.AuthorityIndex][]consensus.BlockRef
	// Votes embeds reject votes into an author's block.
	Votes map[consensus.AuthorityIndex][]consensus.TransactionVote
	// Equivocate lists authorities that produce a second, conflicting
	// block with the same ancestors.
	Equivocate []consensus.AuthorityIndex
	// TxCount is the number of opaque transactions per block; default 2.
	TxCount int
}

// Builder assembles a canonical DAG round by round. All randomness flows
// from the seed, so two builders with equal inputs produce byte-identical
// blocks.
type Builder struct {
	committee *consensus.Committee
	rng       *rand.Rand
	signers   []*crypto.BLSSigner // nil: dummy signatures

	round    consensus.Round
	prevRefs map[consensus.AuthorityIndex]consensus.BlockRef // canonical refs of the last round
	all      []*consensus.VerifiedBlock
	ts       int64
}

func NewBuilder(c *consensus.Committee, seed int64) *Builder {
	b := &Builder{
		committee: c,
		rng:       rand.New(rand.NewSource(seed)),
		prevRefs:  make(map[consensus.AuthorityIndex]consensus.BlockRef),
	}
	for _, g := range consensus.GenesisBlocks(c) {
		b.prevRefs[g.Author] = g.Ref()
		b.all = append(b.all, g)
	}
	return b
}

// SignBlocks switches from dummy to real BLS signatures, with one
// seed-derived signer per authority.
func (b *Builder) SignBlocks() *Builder {
	b.signers = make([]*crypto.BLSSigner, b.committee.Size())
	for i := range b.signers {
		b.signers[i] = crypto.NewBLSSignerFromSeed([]byte(fmt.Sprintf("dagtest-authority-%d", i)))
	}
	return b
}

// Blocks returns every block built so far, genesis included, in creation
// order (which is a causal order).
func (b *Builder) Blocks() []*consensus.VerifiedBlock {
	return append([]*consensus.VerifiedBlock(nil), b.all...)
}

// LastRound returns the highest round built.
func (b *Builder) LastRound() consensus.Round { return b.round }

// Ref returns the canonical block ref an authority produced at the last
// round, ok=false if it skipped.
func (b *Builder) Ref(author consensus.AuthorityIndex) (consensus.BlockRef, bool) {
	ref, ok := b.prevRefs[author]
	return ref, ok
}

// PrevRefs returns the canonical refs of the last built round, sorted.
func (b *Builder) PrevRefs() []consensus.BlockRef {
	refs := make([]consensus.BlockRef, 0, len(b.prevRefs))
	for _, r := range b.prevRefs {
		refs = append(refs, r)
	}
	consensus.SortAncestors(refs)
	return refs
}

// AddFullRounds appends n fully-connected rounds.
func (b *Builder) AddFullRounds(n int) *Builder {
	for i := 0; i < n; i++ {
		b.AddRound(RoundSpec{})
	}
	return b
}

// AddRound appends one round per spec and returns the blocks produced, in
// author order (equivocating doubles follow their originals).
func (b *Builder) AddRound(spec RoundSpec) []*consensus.VerifiedBlock {
	b.round++
	skip := make(map[consensus.AuthorityIndex]struct{}, len(spec.Skip))
	for _, a := range spec.Skip {
		skip[a] = struct{}{}
	}
	equiv := make(map[consensus.AuthorityIndex]struct{}, len(spec.Equivocate))
	for _, a := range spec.Equivocate {
		equiv[a] = struct{}{}
	}

	var produced []*consensus.VerifiedBlock
	nextRefs := make(map[consensus.AuthorityIndex]consensus.BlockRef)
	for i := 0; i < b.committee.Size(); i++ {
		author := consensus.AuthorityIndex(i)
		if _, ok := skip[author]; ok {
			continue
		}
		links := spec.Links[author]
		if links == nil {
			links = b.PrevRefs()
		}
		blk := b.makeBlock(author, links, spec.Votes[author], spec.TxCount)
		produced = append(produced, blk)
		canonical := blk
		if _, ok := equiv[author]; ok {
			double := b.makeBlock(author, links, spec.Votes[author], spec.TxCount)
			produced = append(produced, double)
			// canonical ref for downstream linking is the lower digest,
			// matching the committer's tie-break
			if double.Digest().Compare(blk.Digest()) < 0 {
				canonical = double
			}
		}
		nextRefs[author] = canonical.Ref()
	}
	b.prevRefs = nextRefs
	b.all = append(b.all, produced...)
	return produced
}

// AddRandomRound appends a round where every author links a random
// quorum-covering subset of the previous round and, with probability
// voteProb, casts a reject vote against a random linked ancestor's
// transaction.
func (b *Builder) AddRandomRound(voteProb float64) []*consensus.VerifiedBlock {
	prev := b.PrevRefs()
	spec := RoundSpec{
		Links: make(map[consensus.AuthorityIndex][]consensus.BlockRef),
		Votes: make(map[consensus.AuthorityIndex][]consensus.TransactionVote),
	}
	for i := 0; i < b.committee.Size(); i++ {
		author := consensus.AuthorityIndex(i)
		links := b.randomQuorumLinks(prev)
		spec.Links[author] = links
		if b.rng.Float64() < voteProb {
			if v, ok := b.randomVote(author, links); ok {
				spec.Votes[author] = []consensus.TransactionVote{v}
			}
		}
	}
	return b.AddRound(spec)
}

func (b *Builder) randomQuorumLinks(prev []consensus.BlockRef) []consensus.BlockRef {
	shuffled := append([]consensus.BlockRef(nil), prev...)
	b.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	agg := consensus.NewStakeAggregator(b.committee)
	var links []consensus.BlockRef
	for _, ref := range shuffled {
		if !agg.ReachedQuorum() || b.rng.Intn(2) == 0 {
			links = append(links, ref)
			agg.Add(ref.Author)
		}
	}
	if !agg.ReachedQuorum() {
		panic("dagtest: previous round cannot cover quorum stake")
	}
	consensus.SortAncestors(links)
	return links
}

func (b *Builder) randomVote(author consensus.AuthorityIndex, links []consensus.BlockRef) (consensus.TransactionVote, bool) {
	candidates := make([]consensus.BlockRef, 0, len(links))
	for _, ref := range links {
		if ref.Author != author && ref.Round > 0 {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return consensus.TransactionVote{}, false
	}
	target := candidates[b.rng.Intn(len(candidates))]
	return consensus.TransactionVote{
		Block:   target,
		Rejects: []consensus.TransactionIndex{consensus.TransactionIndex(b.rng.Intn(2))},
	}, true
}

func (b *Builder) makeBlock(author consensus.AuthorityIndex, links []consensus.BlockRef, votes []consensus.TransactionVote, txCount int) *consensus.VerifiedBlock {
	if txCount <= 0 {
		txCount = 2
	}
	txs := make([][]byte, txCount)
	for i := range txs {
		tx := make([]byte, 32)
		b.rng.Read(tx)
		txs[i] = tx
	}
	refs := append([]consensus.BlockRef(nil), links...)
	consensus.SortAncestors(refs)
	b.ts++
	blk := consensus.Block{
		Round:            b.round,
		Author:           author,
		Timestamp:        b.ts,
		Ancestors:        refs,
		Transactions:     txs,
		TransactionVotes: votes,
	}
	if err := consensus.VerifyBlockForm(b.committee, &blk); err != nil {
		panic(fmt.Sprintf("dagtest built a malformed block: %v", err))
	}
	sig := []byte("s")
	if b.signers != nil {
		digest := consensus.DigestOfBlock(&blk)
		sig = b.signers[author].Sign(digest[:])
	}
	return consensus.NewVerifiedBlock(blk, sig)
}

// Permuted returns a shuffled copy of blocks; the original is untouched.
func Permuted(rng *rand.Rand, blocks []*consensus.VerifiedBlock) []*consensus.VerifiedBlock {
	out := append([]*consensus.VerifiedBlock(nil), blocks...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Chunked splits blocks into random-size batches of at most maxChunk,
// simulating bursty network delivery.
func Chunked(rng *rand.Rand, blocks []*consensus.VerifiedBlock, maxChunk int) [][]*consensus.VerifiedBlock {
	var out [][]*consensus.VerifiedBlock
	for i := 0; i < len(blocks); {
		n := 1 + rng.Intn(maxChunk)
		if i+n > len(blocks) {
			n = len(blocks) - i
		}
		out = append(out, blocks[i:i+n])
		i += n
	}
	return out
}
