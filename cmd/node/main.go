// Command node runs one authority of the commit engine: it recovers
// persisted state, gossips blocks with its peers, drives the commit
// pipeline and serves the status API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/daehankim/dagwave/params"
	"github.com/daehankim/dagwave/pkg/api"
	"github.com/daehankim/dagwave/pkg/consensus"
	"github.com/daehankim/dagwave/pkg/crypto"
	"github.com/daehankim/dagwave/pkg/p2p"
	"github.com/daehankim/dagwave/pkg/storage"
	"github.com/daehankim/dagwave/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.Node.DataDir, "node.log")
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	committee, file, err := params.LoadCommittee(cfg.Node.CommitteeFile)
	if err != nil {
		sugar.Fatalw("committee_load_failed", "err", err)
	}
	if !committee.IsValidIndex(consensus.AuthorityIndex(cfg.Node.AuthorityIndex)) {
		sugar.Fatalw("authority_index_out_of_range",
			"index", cfg.Node.AuthorityIndex, "committee", committee.Size())
	}
	pubkeys, err := protocolKeys(committee)
	if err != nil {
		sugar.Fatalw("committee_keys_invalid", "err", err)
	}

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "pebble"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()
	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "commits.wal"))
	if err != nil {
		sugar.Fatalw("wal_open_failed", "err", err)
	}

	lastDecided, _, err := store.LastDecided()
	if err != nil {
		sugar.Fatalw("load_last_decided_failed", "err", err)
	}
	lastCommit, _, err := store.LastCommit()
	if err != nil {
		sugar.Fatalw("load_last_commit_failed", "err", err)
	}
	blocks, err := store.LoadBlocks()
	if err != nil {
		sugar.Fatalw("load_blocks_failed", "err", err)
	}

	// ---- Core pipeline ----
	core := consensus.NewCore(committee, consensus.CoreOptions{
		LastDecided: lastDecided,
		LastCommit:  lastCommit,
		Blocks:      store,
		Commits:     store,
		Slots:       store,
		WAL:         wal,
		OutDepth:    cfg.Node.CommitDepth,
	}, sugar)

	byRef := make(map[consensus.BlockRef]*consensus.VerifiedBlock, len(blocks))
	for _, b := range blocks {
		byRef[b.Ref()] = b
	}
	commits, err := store.LoadCommits(func(ref consensus.BlockRef) (*consensus.VerifiedBlock, bool) {
		b, ok := byRef[ref]
		return b, ok
	})
	if err != nil {
		sugar.Fatalw("load_commits_failed", "err", err)
	}
	// genesis first: on a fresh data dir nothing is persisted yet, and on a
	// warm one the duplicates are no-ops
	if err := core.Recover(append(consensus.GenesisBlocks(committee), blocks...), commits); err != nil {
		sugar.Fatalw("recover_failed", "err", err)
	}
	sugar.Infow("node_recovered",
		"epoch", file.Epoch,
		"blocks", len(blocks),
		"commits", len(commits),
		"last_commit", core.LastCommit().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Network ----
	net, err := p2p.NewGossipNet(ctx, p2p.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Bootstrap:  cfg.P2P.Bootstrap,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("p2p_init_failed", "err", err)
	}
	defer net.Close()
	net.SetBlockSource(core.Dag().Get)
	net.SetBlockHandler(func(ctx context.Context, incoming []*consensus.VerifiedBlock) {
		valid := verifyBlocks(committee, pubkeys, incoming, sugar)
		if len(valid) == 0 {
			return
		}
		if err := core.SubmitBlocks(ctx, valid); err != nil && ctx.Err() == nil {
			sugar.Warnw("submit_failed", "err", err)
		}
	})

	// ---- API ----
	apiServer := api.NewServer(core, committee, store, sugar)
	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// commit consumer: stream finalized sub-DAGs to websocket subscribers
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sub := <-core.Commits():
				apiServer.PublishCommit(sub)
			}
		}
	}()

	// synchronizer: fetch missing ancestors while blocks sit suspended
	go func() {
		ticker := time.NewTicker(cfg.Node.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				missing := core.MissingAncestors()
				if len(missing) == 0 {
					continue
				}
				fetched, err := net.RequestBlocks(ctx, missing)
				if err != nil {
					sugar.Debugw("ancestor_fetch_failed", "missing", len(missing), "err", err)
					continue
				}
				valid := verifyBlocks(committee, pubkeys, fetched, sugar)
				if len(valid) == 0 {
					continue
				}
				if err := core.SubmitBlocks(ctx, valid); err != nil && ctx.Err() == nil {
					sugar.Warnw("submit_failed", "err", err)
				}
			}
		}
	}()

	sugar.Infow("node_starting",
		"authority", cfg.Node.AuthorityIndex,
		"authorities", committee.Size(),
		"quorum", committee.QuorumThreshold(),
		"p2p", cfg.P2P.ListenAddr,
		"api", cfg.API.Addr)

	if err := core.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Fatalw("core_failed", "err", err)
	}
}

// protocolKeys unmarshals every authority's BLS key once, up front.
func protocolKeys(c *consensus.Committee) ([]*crypto.BLSPubKey, error) {
	keys := make([]*crypto.BLSPubKey, c.Size())
	for i := range keys {
		pk, err := crypto.UnmarshalBLSPubKey(c.Authority(consensus.AuthorityIndex(i)).ProtocolKey)
		if err != nil {
			return nil, err
		}
		keys[i] = pk
	}
	return keys, nil
}

// verifyBlocks is the trust boundary: structural checks plus the author's
// BLS signature over the content digest. Invalid blocks are dropped, not
// fatal; a byzantine peer must not crash the node.
func verifyBlocks(c *consensus.Committee, keys []*crypto.BLSPubKey, blocks []*consensus.VerifiedBlock, log *zap.SugaredLogger) []*consensus.VerifiedBlock {
	valid := blocks[:0]
	for _, b := range blocks {
		if err := consensus.VerifyBlockForm(c, &b.Block); err != nil {
			log.Warnw("block_rejected", "block", b.Ref().String(), "err", err)
			continue
		}
		digest := b.Ref().Digest
		if !crypto.VerifyBLS(keys[b.Author], digest[:], b.Signature()) {
			log.Warnw("block_bad_signature", "block", b.Ref().String())
			continue
		}
		valid = append(valid, b)
	}
	return valid
}
