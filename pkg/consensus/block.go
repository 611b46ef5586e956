// file: pkg/consensus/block.go
package consensus

import (
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// TransactionVote is a reject vote cast by a block against transactions
// carried in one of its ancestor blocks. A block never votes on its own
// transactions.
type TransactionVote struct {
	Block   BlockRef
	Rejects []TransactionIndex
}

// Block is the unsigned block body produced by one authority at one round.
// Ancestors carry at most one ref per authority, all at rounds < Round,
// and must cover quorum stake at exactly Round-1 to be well-formed.
type Block struct {
	Round            Round
	Author           AuthorityIndex
	Timestamp        int64 // unix nanos, author-assigned
	Ancestors        []BlockRef
	Transactions     [][]byte
	TransactionVotes []TransactionVote
}

// DigestOfBlock computes the block's content hash (SHA3-256) over a
// canonical field ordering. Ancestors and votes are hashed in the order
// carried by the block; producers sort them, and VerifyBlockForm rejects
// unsorted ancestors, so the encoding is canonical for well-formed blocks.
func DigestOfBlock(b *Block) Hash {
	h := sha3.New256()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(b.Round))
	h.Write(buf[:4])
	binary.BigEndian.PutUint32(buf[:4], uint32(b.Author))
	h.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Timestamp))
	h.Write(buf[:])

	binary.BigEndian.PutUint32(buf[:4], uint32(len(b.Ancestors)))
	h.Write(buf[:4])
	for _, a := range b.Ancestors {
		binary.BigEndian.PutUint32(buf[:4], uint32(a.Round))
		h.Write(buf[:4])
		binary.BigEndian.PutUint32(buf[:4], uint32(a.Author))
		h.Write(buf[:4])
		h.Write(a.Digest[:])
	}

	binary.BigEndian.PutUint32(buf[:4], uint32(len(b.Transactions)))
	h.Write(buf[:4])
	for _, tx := range b.Transactions {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(tx)))
		h.Write(buf[:4])
		h.Write(tx)
	}

	binary.BigEndian.PutUint32(buf[:4], uint32(len(b.TransactionVotes)))
	h.Write(buf[:4])
	for _, v := range b.TransactionVotes {
		binary.BigEndian.PutUint32(buf[:4], uint32(v.Block.Round))
		h.Write(buf[:4])
		binary.BigEndian.PutUint32(buf[:4], uint32(v.Block.Author))
		h.Write(buf[:4])
		h.Write(v.Block.Digest[:])
		binary.BigEndian.PutUint32(buf[:4], uint32(len(v.Rejects)))
		h.Write(buf[:4])
		for _, idx := range v.Rejects {
			binary.BigEndian.PutUint16(buf[:2], uint16(idx))
			h.Write(buf[:2])
		}
	}

	var out Hash
	h.Sum(out[:0])
	return out
}

// VerifiedBlock is a block that passed signature and form verification
// upstream. The digest is computed once at construction; the signature is
// carried for storage and re-gossip, never re-checked here.
type VerifiedBlock struct {
	Block
	digest    Hash
	signature []byte
}

func NewVerifiedBlock(b Block, signature []byte) *VerifiedBlock {
	return &VerifiedBlock{Block: b, digest: DigestOfBlock(&b), signature: signature}
}

func (b *VerifiedBlock) Digest() Hash      { return b.digest }
func (b *VerifiedBlock) Signature() []byte { return b.signature }

func (b *VerifiedBlock) Ref() BlockRef {
	return BlockRef{Round: b.Round, Author: b.Author, Digest: b.digest}
}

// Includes reports whether the block references ref as an ancestor.
func (b *VerifiedBlock) Includes(ref BlockRef) bool {
	for _, a := range b.Ancestors {
		if a == ref {
			return true
		}
	}
	return false
}

// AncestorByAuthor returns the block's ancestor ref authored by the given
// authority, if any. Well-formed blocks carry at most one per authority.
func (b *VerifiedBlock) AncestorByAuthor(author AuthorityIndex) (BlockRef, bool) {
	for _, a := range b.Ancestors {
		if a.Author == author {
			return a, true
		}
	}
	return BlockRef{}, false
}

// SortAncestors puts ancestor refs into canonical (round, author, digest)
// order. Producers call this before signing.
func SortAncestors(refs []BlockRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Compare(refs[j]) < 0 })
}

// VerifyBlockForm enforces the structural invariants a block must satisfy
// before it may enter the block manager:
//   - author is a committee member and round > 0
//   - ancestors are sorted, unique per authority, and at rounds < Round
//   - ancestors at exactly Round-1 cover quorum stake
//   - transaction votes target ancestor authors' rounds only
//
// Blocks failing any check are malformed and must be dropped outright,
// never suspended.
func VerifyBlockForm(c *Committee, b *Block) error {
	if !c.IsValidIndex(b.Author) {
		return fmt.Errorf("block author %d outside committee of %d", b.Author, c.Size())
	}
	if b.Round == 0 {
		return fmt.Errorf("block round must be positive")
	}
	seen := make(map[AuthorityIndex]struct{}, len(b.Ancestors))
	parents := NewStakeAggregator(c)
	for i, a := range b.Ancestors {
		if i > 0 && b.Ancestors[i-1].Compare(a) >= 0 {
			return fmt.Errorf("ancestors out of canonical order at %d", i)
		}
		if !c.IsValidIndex(a.Author) {
			return fmt.Errorf("ancestor author %d outside committee", a.Author)
		}
		if a.Round >= b.Round {
			return fmt.Errorf("ancestor %s not in an earlier round than %d", a, b.Round)
		}
		if _, dup := seen[a.Author]; dup {
			return fmt.Errorf("two ancestors by authority %d", a.Author)
		}
		seen[a.Author] = struct{}{}
		if a.Round == b.Round-1 {
			parents.Add(a.Author)
		}
	}
	if !parents.ReachedQuorum() {
		return fmt.Errorf("round-%d ancestors carry %d stake, quorum is %d",
			b.Round-1, parents.Stake(), c.QuorumThreshold())
	}
	for _, v := range b.TransactionVotes {
		if v.Block.Round >= b.Round {
			return fmt.Errorf("transaction vote targets non-ancestor round %d", v.Block.Round)
		}
		if v.Block.Author == b.Author {
			return fmt.Errorf("transaction vote targets own block %s", v.Block)
		}
		if len(v.Rejects) == 0 {
			return fmt.Errorf("empty transaction vote against %s", v.Block)
		}
	}
	return nil
}
