// file: pkg/storage/codec.go
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/daehankim/dagwave/pkg/consensus"
)

// Key schema:
//
//	b:<round><author><digest> → blockRecord   (round-ordered scans)
//	s:<index>                 → commitRecord  (index-ordered scans)
//	ld                        → last decided slot
//	lc                        → last commit ref

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// blockRecord is the persisted form of a verified block. The digest is
// recomputed on load, so a corrupted record is detectable by re-keying.
type blockRecord struct {
	Block     consensus.Block
	Signature []byte
}

// commitRecord persists a finalized commit by reference; blocks are
// resolved against the block keyspace on load.
type commitRecord struct {
	Ref       consensus.CommitRef
	Leader    consensus.BlockRef
	Blocks    []consensus.BlockRef
	Rejected  map[consensus.BlockRef][]consensus.TransactionIndex
	Timestamp int64
}

func blockKey(ref consensus.BlockRef) []byte {
	k := make([]byte, 2+4+4+len(ref.Digest))
	copy(k, "b:")
	binary.BigEndian.PutUint32(k[2:], uint32(ref.Round))
	binary.BigEndian.PutUint32(k[6:], uint32(ref.Author))
	copy(k[10:], ref.Digest[:])
	return k
}

func commitKey(index uint64) []byte {
	k := make([]byte, 2+8)
	copy(k, "s:")
	binary.BigEndian.PutUint64(k[2:], index)
	return k
}

func kLastDecided() []byte { return []byte("ld") }
func kLastCommit() []byte  { return []byte("lc") }

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
