// file: pkg/consensus/finalizer.go
package consensus

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// CommitPersister stores finalized commit refs so a restarted node resumes
// the chain instead of re-emitting. Implemented by pkg/storage.
type CommitPersister interface {
	PutCommit(sub *CommittedSubDag) error
}

// Finalizer stamps linearized sub-DAGs with the next monotonic commit index
// and a digest chaining over the previous commit. The chain lets any
// consumer verify that no commit was skipped, reordered or forged without
// re-deriving the DAG.
type Finalizer struct {
	last    CommitRef
	wal     WAL
	persist CommitPersister
}

// NewFinalizer resumes from the last finalized commit ref; pass the zero
// CommitRef for a fresh epoch. wal and persist may be nil.
func NewFinalizer(last CommitRef, wal WAL, persist CommitPersister) *Finalizer {
	return &Finalizer{last: last, wal: wal, persist: persist}
}

// LastCommit returns the most recently assigned commit ref.
func (f *Finalizer) LastCommit() CommitRef { return f.last }

// Finalize assigns the sub-DAG its commit ref and hands it back for the
// execution layer. Each sub-DAG must be finalized exactly once, in the
// order the committer decided its leader.
func (f *Finalizer) Finalize(sub *CommittedSubDag) (*CommittedSubDag, error) {
	if sub.Ref != (CommitRef{}) {
		panic(fmt.Sprintf("finalizer: sub-dag %s already finalized as %s", sub.Leader, sub.Ref))
	}
	sub.Ref = CommitRef{
		Index:  f.last.Index + 1,
		Digest: commitDigest(f.last, sub),
	}
	f.last = sub.Ref

	if f.persist != nil {
		if err := f.persist.PutCommit(sub); err != nil {
			return nil, fmt.Errorf("persist commit %s: %w", sub.Ref, err)
		}
	}
	if f.wal != nil {
		f.wal.Append(fmt.Sprintf("commit index=%d leader=%s blocks=%d rejected=%d",
			sub.Ref.Index, sub.Leader, len(sub.Blocks), len(sub.Rejected)))
	}
	return sub, nil
}

// commitDigest binds (index, leader, previous commit digest, block refs)
// into the commit hash chain.
func commitDigest(prev CommitRef, sub *CommittedSubDag) Hash {
	h := sha3.New256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], prev.Index+1)
	h.Write(buf[:])
	h.Write(prev.Digest[:])
	writeRef(h, sub.Leader)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(sub.Blocks)))
	h.Write(buf[:4])
	for _, b := range sub.Blocks {
		writeRef(h, b.Ref())
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

func writeRef(h interface{ Write([]byte) (int, error) }, ref BlockRef) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(ref.Round))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(ref.Author))
	h.Write(buf[:])
	h.Write(ref.Digest[:])
}
