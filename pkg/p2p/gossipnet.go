// Package p2p gossips DAG blocks between authorities over libp2p and serves
// ancestor backfill for peers whose block manager reports missing refs.
package p2p

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/daehankim/dagwave/pkg/consensus"
)

const (
	topicBlocks   = "dagwave-blocks"
	protocolFetch = protocol.ID("/dagwave/fetch/1.0.0")

	maxFetchRefs = 512
)

// BlockHandler receives decoded inbound blocks. Verification and acceptance
// belong to the caller; the network layer only moves bytes.
type BlockHandler func(ctx context.Context, blocks []*consensus.VerifiedBlock)

// BlockSource resolves fetch requests, normally backed by the DAG store.
type BlockSource func(ref consensus.BlockRef) (*consensus.VerifiedBlock, bool)

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

// GossipNet is the authority's network face: one gossip topic for block
// dissemination plus a request/response stream protocol for backfilling
// missing ancestors.
type GossipNet struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tBlocks   *pubsub.Topic
	subBlocks *pubsub.Subscription

	muH     sync.RWMutex
	handler BlockHandler
	source  BlockSource
}

func NewGossipNet(ctx context.Context, cfg Config) (*GossipNet, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	n := &GossipNet{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if n.tBlocks, err = ps.Join(topicBlocks); err != nil {
		return nil, err
	}
	if n.subBlocks, err = n.tBlocks.Subscribe(); err != nil {
		return nil, err
	}

	h.SetStreamHandler(protocolFetch, n.handleFetchStream)
	go n.handleBlocks(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("p2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return n, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *GossipNet) Host() host.Host { return n.h }

func (n *GossipNet) Close() error { return n.h.Close() }

// SetBlockHandler installs the inbound sink. Must be set before peers start
// publishing; batches arriving earlier are dropped.
func (n *GossipNet) SetBlockHandler(h BlockHandler) {
	n.muH.Lock()
	n.handler = h
	n.muH.Unlock()
}

// SetBlockSource installs the resolver answering fetch requests.
func (n *GossipNet) SetBlockSource(s BlockSource) {
	n.muH.Lock()
	n.source = s
	n.muH.Unlock()
}

// BroadcastBlocks publishes a batch on the block topic.
func (n *GossipNet) BroadcastBlocks(ctx context.Context, blocks []*consensus.VerifiedBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	data, err := encodeBatch(blocks)
	if err != nil {
		return err
	}
	return n.tBlocks.Publish(ctx, data)
}

// RequestBlocks asks one connected peer for the blocks behind refs. Returns
// whatever subset the peer had; the caller retries elsewhere for the rest.
func (n *GossipNet) RequestBlocks(ctx context.Context, refs []consensus.BlockRef) ([]*consensus.VerifiedBlock, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if len(refs) > maxFetchRefs {
		refs = refs[:maxFetchRefs]
	}
	peers := n.h.Network().Peers()
	if len(peers) == 0 {
		return nil, errors.New("no peers connected")
	}
	target := peers[rand.Intn(len(peers))]

	stream, err := n.h.NewStream(ctx, target, protocolFetch)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	req, err := gobEncode(FetchWire{Refs: refs})
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write(req); err != nil {
		return nil, err
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, err
	}

	resp, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	return decodeBatch(resp)
}

func (n *GossipNet) handleBlocks(ctx context.Context) {
	for {
		msg, err := n.subBlocks.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		blocks, err := decodeBatch(msg.Data)
		if err != nil {
			if n.log != nil {
				n.log.Warnw("bad_block_batch", "from", msg.ReceivedFrom.String(), "err", err)
			}
			continue
		}
		n.muH.RLock()
		handler := n.handler
		n.muH.RUnlock()
		if handler != nil {
			handler(ctx, blocks)
		}
	}
}

func (n *GossipNet) handleFetchStream(s network.Stream) {
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		return
	}
	var req FetchWire
	if err := gobDecode(data, &req); err != nil {
		return
	}
	if len(req.Refs) > maxFetchRefs {
		req.Refs = req.Refs[:maxFetchRefs]
	}

	n.muH.RLock()
	source := n.source
	n.muH.RUnlock()
	if source == nil {
		return
	}
	var found []*consensus.VerifiedBlock
	for _, ref := range req.Refs {
		if b, ok := source(ref); ok {
			found = append(found, b)
		}
	}
	resp, err := encodeBatch(found)
	if err != nil {
		return
	}
	if _, err := s.Write(resp); err != nil && n.log != nil {
		n.log.Debugw("fetch_response_failed", "err", err)
	}
}
