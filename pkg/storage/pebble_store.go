// file: pkg/storage/pebble_store.go
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/daehankim/dagwave/pkg/consensus"
)

// PebbleStore persists the consensus core's durable state: accepted blocks,
// finalized commits, the last decided slot and the last commit ref. It
// implements the core's persister hooks and the load side of restart
// recovery.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) PutBlock(b *consensus.VerifiedBlock) error {
	val, err := encodeGob(blockRecord{Block: b.Block, Signature: b.Signature()})
	if err != nil {
		return fmt.Errorf("encode block %s: %w", b.Ref(), err)
	}
	if err := s.db.Set(blockKey(b.Ref()), val, pebble.Sync); err != nil {
		return fmt.Errorf("put block %s: %w", b.Ref(), err)
	}
	return nil
}

// LoadBlocks returns every persisted block in (round, author, digest) key
// order. Round order means re-accepting them in sequence never suspends.
func (s *PebbleStore) LoadBlocks() ([]*consensus.VerifiedBlock, error) {
	prefix := []byte("b:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("block iterator: %w", err)
	}
	defer iter.Close()

	var out []*consensus.VerifiedBlock
	for iter.First(); iter.Valid(); iter.Next() {
		var rec blockRecord
		if err := decodeGob(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode block record: %w", err)
		}
		out = append(out, consensus.NewVerifiedBlock(rec.Block, rec.Signature))
	}
	return out, iter.Error()
}

func (s *PebbleStore) PutCommit(sub *consensus.CommittedSubDag) error {
	rec := commitRecord{
		Ref:       sub.Ref,
		Leader:    sub.Leader,
		Blocks:    make([]consensus.BlockRef, 0, len(sub.Blocks)),
		Rejected:  sub.Rejected,
		Timestamp: sub.Timestamp,
	}
	for _, b := range sub.Blocks {
		rec.Blocks = append(rec.Blocks, b.Ref())
	}
	val, err := encodeGob(rec)
	if err != nil {
		return fmt.Errorf("encode commit %s: %w", sub.Ref, err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(commitKey(sub.Ref.Index), val, nil); err != nil {
		return err
	}
	lc, err := encodeGob(sub.Ref)
	if err != nil {
		return err
	}
	if err := batch.Set(kLastCommit(), lc, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("put commit %s: %w", sub.Ref, err)
	}
	return nil
}

// LoadCommits rebuilds persisted commits in index order, resolving block
// refs through the supplied lookup (normally the freshly-reloaded DAG).
func (s *PebbleStore) LoadCommits(resolve func(consensus.BlockRef) (*consensus.VerifiedBlock, bool)) ([]*consensus.CommittedSubDag, error) {
	prefix := []byte("s:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("commit iterator: %w", err)
	}
	defer iter.Close()

	var out []*consensus.CommittedSubDag
	for iter.First(); iter.Valid(); iter.Next() {
		var rec commitRecord
		if err := decodeGob(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode commit record: %w", err)
		}
		sub := &consensus.CommittedSubDag{
			Leader:    rec.Leader,
			Ref:       rec.Ref,
			Rejected:  rec.Rejected,
			Timestamp: rec.Timestamp,
		}
		for _, ref := range rec.Blocks {
			b, ok := resolve(ref)
			if !ok {
				return nil, fmt.Errorf("commit %s references unknown block %s", rec.Ref, ref)
			}
			sub.Blocks = append(sub.Blocks, b)
		}
		out = append(out, sub)
	}
	return out, iter.Error()
}

// CommitSummary is a persisted commit by reference, for consumers that do
// not need the block bodies (the status API, audits).
type CommitSummary struct {
	Ref       consensus.CommitRef
	Leader    consensus.BlockRef
	Blocks    []consensus.BlockRef
	Rejected  map[consensus.BlockRef][]consensus.TransactionIndex
	Timestamp int64
}

// GetCommit looks up one finalized commit by index.
func (s *PebbleStore) GetCommit(index uint64) (CommitSummary, bool, error) {
	val, closer, err := s.db.Get(commitKey(index))
	if err == pebble.ErrNotFound {
		return CommitSummary{}, false, nil
	}
	if err != nil {
		return CommitSummary{}, false, fmt.Errorf("get commit %d: %w", index, err)
	}
	defer closer.Close()
	var rec commitRecord
	if err := decodeGob(val, &rec); err != nil {
		return CommitSummary{}, false, err
	}
	return CommitSummary{
		Ref:       rec.Ref,
		Leader:    rec.Leader,
		Blocks:    rec.Blocks,
		Rejected:  rec.Rejected,
		Timestamp: rec.Timestamp,
	}, true, nil
}

func (s *PebbleStore) PutLastDecided(slot consensus.Slot) error {
	val, err := encodeGob(slot)
	if err != nil {
		return err
	}
	if err := s.db.Set(kLastDecided(), val, pebble.Sync); err != nil {
		return fmt.Errorf("put last decided: %w", err)
	}
	return nil
}

func (s *PebbleStore) LastDecided() (consensus.Slot, bool, error) {
	val, closer, err := s.db.Get(kLastDecided())
	if err == pebble.ErrNotFound {
		return consensus.Slot{}, false, nil
	}
	if err != nil {
		return consensus.Slot{}, false, fmt.Errorf("get last decided: %w", err)
	}
	defer closer.Close()
	var slot consensus.Slot
	if err := decodeGob(val, &slot); err != nil {
		return consensus.Slot{}, false, err
	}
	return slot, true, nil
}

func (s *PebbleStore) LastCommit() (consensus.CommitRef, bool, error) {
	val, closer, err := s.db.Get(kLastCommit())
	if err == pebble.ErrNotFound {
		return consensus.CommitRef{}, false, nil
	}
	if err != nil {
		return consensus.CommitRef{}, false, fmt.Errorf("get last commit: %w", err)
	}
	defer closer.Close()
	var ref consensus.CommitRef
	if err := decodeGob(val, &ref); err != nil {
		return consensus.CommitRef{}, false, err
	}
	return ref, true, nil
}

var _ consensus.BlockPersister = (*PebbleStore)(nil)
var _ consensus.CommitPersister = (*PebbleStore)(nil)
var _ consensus.SlotPersister = (*PebbleStore)(nil)
