// file: pkg/consensus/types.go
package consensus

import (
	"bytes"
	"fmt"
)

type Round uint32
type AuthorityIndex uint32
type Stake uint64
type TransactionIndex uint16

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:8]) }

// Compare orders digests lexicographically.
func (h Hash) Compare(o Hash) int { return bytes.Compare(h[:], o[:]) }

// BlockRef names a block by position and content: (round, author, digest).
// It is the key type of the DAG store and the ancestor link format.
type BlockRef struct {
	Round  Round
	Author AuthorityIndex
	Digest Hash
}

func (r BlockRef) String() string {
	return fmt.Sprintf("B%d(%d,%s)", r.Round, r.Author, r.Digest)
}

// Compare orders refs by (round, author, digest). This ordering is a protocol
// constant: the linearizer and the equivocation tie-break both depend on it.
func (r BlockRef) Compare(o BlockRef) int {
	if r.Round != o.Round {
		if r.Round < o.Round {
			return -1
		}
		return 1
	}
	if r.Author != o.Author {
		if r.Author < o.Author {
			return -1
		}
		return 1
	}
	return r.Digest.Compare(o.Digest)
}

// Slot names the position a leader block would occupy, whether or not any
// block actually fills it.
type Slot struct {
	Round  Round
	Author AuthorityIndex
}

func (s Slot) String() string { return fmt.Sprintf("S%d(%d)", s.Round, s.Author) }

// LeaderStatusKind is the outcome of deciding one leader slot.
type LeaderStatusKind int

const (
	// LeaderUndecided means the DAG does not yet contain enough support to
	// commit or skip the slot. Not an error; retry after more blocks arrive.
	LeaderUndecided LeaderStatusKind = iota
	// LeaderCommit means the slot's block reached quorum certification.
	LeaderCommit
	// LeaderSkip means a quorum of next-round blocks ignored the slot.
	LeaderSkip
)

func (k LeaderStatusKind) String() string {
	switch k {
	case LeaderUndecided:
		return "undecided"
	case LeaderCommit:
		return "commit"
	case LeaderSkip:
		return "skip"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// LeaderStatus is one entry of the committer's output stream. Block is set
// iff Kind == LeaderCommit. Once emitted as Commit or Skip for a slot, the
// decision is final for the epoch.
type LeaderStatus struct {
	Slot  Slot
	Kind  LeaderStatusKind
	Block *VerifiedBlock
}

func (s LeaderStatus) String() string {
	if s.Kind == LeaderCommit {
		return fmt.Sprintf("%s=%s(%s)", s.Slot, s.Kind, s.Block.Ref().Digest)
	}
	return fmt.Sprintf("%s=%s", s.Slot, s.Kind)
}

// CommitRef is the monotonic identity of a finalized commit. Digest chains
// over the previous commit so consumers can audit the sequence without
// re-deriving the DAG.
type CommitRef struct {
	Index  uint64
	Digest Hash
}

func (r CommitRef) String() string { return fmt.Sprintf("C%d(%s)", r.Index, r.Digest) }

// CommittedSubDag is the materialized result of one Commit decision: the
// leader plus every block newly reachable from it, in deterministic
// topological order, with quorum-rejected transactions folded in.
// Ref is zero until the finalizer stamps it.
type CommittedSubDag struct {
	Leader   BlockRef
	Ref      CommitRef
	Blocks   []*VerifiedBlock
	Rejected map[BlockRef][]TransactionIndex
	// Timestamp is the leader block's timestamp (unix nanos).
	Timestamp int64
}

// WAL records finalized commits as human-readable lines. Implemented in
// pkg/storage.
type WAL interface {
	Append(line string)
}
