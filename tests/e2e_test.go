// End-to-end: four authorities build a signed DAG, every node verifies the
// blocks at its trust boundary the way cmd/node does, ingests them in its
// own delivery order, and all nodes finalize the identical commit chain.
package tests

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/daehankim/dagwave/pkg/consensus"
	"github.com/daehankim/dagwave/pkg/consensus/dagtest"
	"github.com/daehankim/dagwave/pkg/crypto"
)

// signedCommittee mirrors dagtest's seed-derived signers so the committee
// file carries the matching public keys.
func signedCommittee(t *testing.T, n int) (*consensus.Committee, []*crypto.BLSPubKey) {
	t.Helper()
	auths := make([]consensus.Authority, n)
	keys := make([]*crypto.BLSPubKey, n)
	for i := 0; i < n; i++ {
		signer := crypto.NewBLSSignerFromSeed([]byte(fmt.Sprintf("dagtest-authority-%d", i)))
		auths[i] = consensus.Authority{Stake: 1, ProtocolKey: signer.PubkeyBytes()}
		pk, err := crypto.UnmarshalBLSPubKey(signer.PubkeyBytes())
		if err != nil {
			t.Fatalf("unmarshal pubkey %d: %v", i, err)
		}
		keys[i] = pk
	}
	return consensus.NewCommittee(0, consensus.Hash{}, auths), keys
}

func verifyAll(t *testing.T, c *consensus.Committee, keys []*crypto.BLSPubKey, blocks []*consensus.VerifiedBlock) {
	t.Helper()
	for _, b := range blocks {
		if b.Round == 0 {
			continue // genesis is constructed, never received
		}
		if err := consensus.VerifyBlockForm(c, &b.Block); err != nil {
			t.Fatalf("block %s failed form check: %v", b.Ref(), err)
		}
		digest := b.Ref().Digest
		if !crypto.VerifyBLS(keys[b.Author], digest[:], b.Signature()) {
			t.Fatalf("block %s failed signature check", b.Ref())
		}
	}
}

func drainCommits(c *consensus.Core) []*consensus.CommittedSubDag {
	var out []*consensus.CommittedSubDag
	for {
		select {
		case sub := <-c.Commits():
			out = append(out, sub)
		default:
			return out
		}
	}
}

func TestFourAuthorityNetworkAgrees(t *testing.T) {
	committee, keys := signedCommittee(t, 4)

	builder := dagtest.NewBuilder(committee, 100).SignBlocks()
	builder.AddFullRounds(10)
	blocks := builder.Blocks()
	verifyAll(t, committee, keys, blocks)

	var chains [][]*consensus.CommittedSubDag
	for node := 0; node < 4; node++ {
		core := consensus.NewCore(committee, consensus.CoreOptions{}, nil)
		rng := rand.New(rand.NewSource(int64(node)))
		for _, chunk := range dagtest.Chunked(rng, dagtest.Permuted(rng, blocks), 6) {
			if _, err := core.AddBlocks(chunk); err != nil {
				t.Fatalf("node %d: add blocks: %v", node, err)
			}
		}
		commits := drainCommits(core)
		if len(commits) != 8 {
			t.Fatalf("node %d finalized %d commits over 10 rounds, want 8", node, len(commits))
		}
		chains = append(chains, commits)
	}

	reference := chains[0]
	for node := 1; node < len(chains); node++ {
		for i := range reference {
			if chains[node][i].Ref != reference[i].Ref {
				t.Fatalf("node %d commit %d = %s, node 0 has %s",
					node, i, chains[node][i].Ref, reference[i].Ref)
			}
		}
	}

	// cumulative block counts: every block of rounds 1..8 commits exactly once
	total := 0
	seen := make(map[consensus.BlockRef]struct{})
	for _, sub := range reference {
		for _, b := range sub.Blocks {
			if _, dup := seen[b.Ref()]; dup {
				t.Fatalf("block %s committed twice", b.Ref())
			}
			seen[b.Ref()] = struct{}{}
			total++
		}
	}
	// 4 genesis + 8 full rounds of 4
	if total != 4+8*4 {
		t.Fatalf("committed %d blocks, want %d", total, 4+8*4)
	}
}

func TestSkippedLeaderNetworkStillCommits(t *testing.T) {
	committee := consensus.NewCommitteeForTest(4)
	schedule := consensus.NewLeaderSchedule(committee)
	crashed := schedule.LeaderForRound(5)

	builder := dagtest.NewBuilder(committee, 102)
	builder.AddFullRounds(4)
	builder.AddRound(dagtest.RoundSpec{Skip: []consensus.AuthorityIndex{crashed}})
	builder.AddFullRounds(5)
	blocks := builder.Blocks()

	var chains [][]*consensus.CommittedSubDag
	for node := 0; node < 3; node++ {
		core := consensus.NewCore(committee, consensus.CoreOptions{}, nil)
		rng := rand.New(rand.NewSource(int64(200 + node)))
		for _, chunk := range dagtest.Chunked(rng, dagtest.Permuted(rng, blocks), 5) {
			if _, err := core.AddBlocks(chunk); err != nil {
				t.Fatalf("node %d: add blocks: %v", node, err)
			}
		}
		chains = append(chains, drainCommits(core))
	}

	// rounds 1..8 decided; round 5's leader produced nothing, so its slot
	// skips and the other seven leaders commit
	for node, commits := range chains {
		if len(commits) != 7 {
			t.Fatalf("node %d finalized %d commits, want 7", node, len(commits))
		}
		for i, sub := range commits {
			if sub.Ref.Index != uint64(i+1) {
				t.Fatalf("node %d commit %d has index %d", node, i, sub.Ref.Index)
			}
			if sub.Leader.Round == 5 {
				t.Fatalf("node %d committed the skipped round-5 leader %s", node, sub.Leader)
			}
		}
		for i := range chains[0] {
			if commits[i].Ref != chains[0][i].Ref {
				t.Fatalf("node %d commit %d = %s, node 0 has %s",
					node, i, commits[i].Ref, chains[0][i].Ref)
			}
		}
	}
}

func TestTamperedBlockFailsVerification(t *testing.T) {
	committee, keys := signedCommittee(t, 4)
	builder := dagtest.NewBuilder(committee, 101).SignBlocks()
	round1 := builder.AddRound(dagtest.RoundSpec{})

	victim := round1[0]
	forged := victim.Block
	forged.Transactions = append([][]byte{[]byte("injected")}, forged.Transactions...)
	reSigned := consensus.NewVerifiedBlock(forged, victim.Signature())

	digest := reSigned.Ref().Digest
	if crypto.VerifyBLS(keys[reSigned.Author], digest[:], reSigned.Signature()) {
		t.Fatalf("signature verified over tampered content")
	}
}
