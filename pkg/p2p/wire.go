package p2p

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/daehankim/dagwave/pkg/consensus"
)

// Wire messages carry pre-encoded payloads so the envelope can evolve
// independently of the block encoding.

// BlockWire is one signed block on the wire.
type BlockWire struct {
	Block     []byte // gob-encoded consensus.Block
	Signature []byte
}

// BatchWire groups blocks for the gossip topic and for fetch responses.
type BatchWire struct {
	Blocks []BlockWire
}

// FetchWire asks a peer for the blocks behind the listed refs.
type FetchWire struct {
	Refs []consensus.BlockRef
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func encodeBatch(blocks []*consensus.VerifiedBlock) ([]byte, error) {
	batch := BatchWire{Blocks: make([]BlockWire, 0, len(blocks))}
	for _, b := range blocks {
		bb, err := gobEncode(b.Block)
		if err != nil {
			return nil, fmt.Errorf("encode block %s: %w", b.Ref(), err)
		}
		batch.Blocks = append(batch.Blocks, BlockWire{Block: bb, Signature: b.Signature()})
	}
	return gobEncode(batch)
}

// decodeBatch rebuilds verified blocks from the wire. Digests are recomputed
// from content, so a tampered payload simply yields a different ref; form
// and signature checks stay with the caller.
func decodeBatch(data []byte) ([]*consensus.VerifiedBlock, error) {
	var batch BatchWire
	if err := gobDecode(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	out := make([]*consensus.VerifiedBlock, 0, len(batch.Blocks))
	for _, w := range batch.Blocks {
		var blk consensus.Block
		if err := gobDecode(w.Block, &blk); err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		out = append(out, consensus.NewVerifiedBlock(blk, w.Signature))
	}
	return out, nil
}
