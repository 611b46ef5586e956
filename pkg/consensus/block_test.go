// file: pkg/consensus/block_test.go
package consensus_test

import (
	"strings"
	"testing"

	"github.com/daehankim/dagwave/pkg/consensus"
)

func genesisRefs(c *consensus.Committee) []consensus.BlockRef {
	blocks := consensus.GenesisBlocks(c)
	refs := make([]consensus.BlockRef, len(blocks))
	for i, b := range blocks {
		refs[i] = b.Ref()
	}
	consensus.SortAncestors(refs)
	return refs
}

func TestVerifyBlockForm(t *testing.T) {
	c := consensus.NewCommitteeForTest(4)
	refs := genesisRefs(c)

	valid := func() consensus.Block {
		return consensus.Block{
			Round:        1,
			Author:       0,
			Timestamp:    1,
			Ancestors:    append([]consensus.BlockRef(nil), refs...),
			Transactions: [][]byte{[]byte("tx0"), []byte("tx1")},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*consensus.Block)
		wantErr string
	}{
		{name: "valid", mutate: func(*consensus.Block) {}},
		{
			name:    "author outside committee",
			mutate:  func(b *consensus.Block) { b.Author = 4 },
			wantErr: "outside committee",
		},
		{
			name:    "round zero",
			mutate:  func(b *consensus.Block) { b.Round = 0 },
			wantErr: "round must be positive",
		},
		{
			name:    "below parent quorum",
			mutate:  func(b *consensus.Block) { b.Ancestors = b.Ancestors[:2] },
			wantErr: "quorum",
		},
		{
			name: "duplicate ancestor authority",
			mutate: func(b *consensus.Block) {
				dup := b.Ancestors[3]
				for i := range dup.Digest {
					dup.Digest[i] = 0xff
				}
				b.Ancestors = append(b.Ancestors, dup)
			},
			wantErr: "two ancestors",
		},
		{
			name: "ancestors out of order",
			mutate: func(b *consensus.Block) {
				b.Ancestors[0], b.Ancestors[1] = b.Ancestors[1], b.Ancestors[0]
			},
			wantErr: "canonical order",
		},
		{
			name: "ancestor not in earlier round",
			mutate: func(b *consensus.Block) {
				b.Round = 1
				same := b.Ancestors[3]
				same.Round = 1
				b.Ancestors[3] = same
			},
			wantErr: "earlier round",
		},
		{
			name: "vote against own block",
			mutate: func(b *consensus.Block) {
				b.TransactionVotes = []consensus.TransactionVote{{
					Block:   consensus.BlockRef{Round: 0, Author: 0},
					Rejects: []consensus.TransactionIndex{0},
				}}
			},
			wantErr: "own block",
		},
		{
			name: "empty vote",
			mutate: func(b *consensus.Block) {
				b.TransactionVotes = []consensus.TransactionVote{{
					Block: consensus.BlockRef{Round: 0, Author: 1},
				}}
			},
			wantErr: "empty transaction vote",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(&b)
			err := consensus.VerifyBlockForm(c, &b)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("VerifyBlockForm = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("VerifyBlockForm = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDigestCoversContent(t *testing.T) {
	c := consensus.NewCommitteeForTest(4)
	refs := genesisRefs(c)
	base := consensus.Block{
		Round:        1,
		Author:       2,
		Timestamp:    7,
		Ancestors:    refs,
		Transactions: [][]byte{[]byte("a"), []byte("b")},
	}
	d1 := consensus.DigestOfBlock(&base)
	if d1 == consensus.DigestOfBlock(&consensus.Block{}) {
		t.Fatalf("digest of a populated block equals digest of the zero block")
	}
	if d1 != consensus.DigestOfBlock(&base) {
		t.Fatalf("digest is not deterministic")
	}

	tx := base
	tx.Transactions = [][]byte{[]byte("a"), []byte("c")}
	if consensus.DigestOfBlock(&tx) == d1 {
		t.Fatalf("transaction change did not change digest")
	}

	ts := base
	ts.Timestamp = 8
	if consensus.DigestOfBlock(&ts) == d1 {
		t.Fatalf("timestamp change did not change digest")
	}

	votes := base
	votes.TransactionVotes = []consensus.TransactionVote{{
		Block:   refs[0],
		Rejects: []consensus.TransactionIndex{1},
	}}
	if consensus.DigestOfBlock(&votes) == d1 {
		t.Fatalf("vote change did not change digest")
	}
}

func TestAncestorLookups(t *testing.T) {
	c := consensus.NewCommitteeForTest(4)
	refs := genesisRefs(c)
	b := consensus.NewVerifiedBlock(consensus.Block{
		Round:     1,
		Author:    1,
		Ancestors: refs[:3],
	}, nil)

	if !b.Includes(refs[0]) {
		t.Fatalf("Includes missed a cited ancestor")
	}
	if b.Includes(refs[3]) {
		t.Fatalf("Includes reported an uncited ancestor")
	}
	if ref, ok := b.AncestorByAuthor(refs[1].Author); !ok || ref != refs[1] {
		t.Fatalf("AncestorByAuthor(%d) = %v, %v", refs[1].Author, ref, ok)
	}
	if _, ok := b.AncestorByAuthor(refs[3].Author); ok {
		t.Fatalf("AncestorByAuthor found an absent authority")
	}
}
