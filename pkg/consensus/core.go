// file: pkg/consensus/core.go
package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/daehankim/dagwave/pkg/util"
)

// SlotPersister stores the last decided slot across restarts. Implemented
// by pkg/storage.
type SlotPersister interface {
	PutLastDecided(s Slot) error
}

// Core drives the commit pipeline of a single authority: accept incoming
// blocks, re-run the committer, linearize every resolved Commit, finalize,
// and emit downstream. One goroutine owns the whole pipeline, so the
// committer and linearizer always observe a consistent DAG snapshot and
// the finalizer's counter needs no locking.
type Core struct {
	committee   *Committee
	dag         *DagStore
	manager     *BlockManager
	committer   *Committer
	linearizer  *Linearizer
	finalizer   *Finalizer
	lastDecided Slot

	// mu guards the read-side snapshots below; everything else is owned by
	// the pipeline goroutine.
	mu          sync.RWMutex
	decidedSnap Slot
	commitSnap  CommitRef
	missingSnap []BlockRef

	slots SlotPersister // may be nil

	incoming chan []*VerifiedBlock
	out      chan *CommittedSubDag

	clock util.Clock
	log   *zap.SugaredLogger
}

// CoreOptions carries the persisted state a restarting node resumes from,
// plus the optional persistence hooks. Zero values start a fresh epoch.
type CoreOptions struct {
	LastDecided Slot
	LastCommit  CommitRef
	Blocks      BlockPersister
	Commits     CommitPersister
	Slots       SlotPersister
	WAL         WAL
	Clock       util.Clock
	OutDepth    int
}

func NewCore(committee *Committee, opts CoreOptions, log *zap.SugaredLogger) *Core {
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.OutDepth <= 0 {
		opts.OutDepth = 128
	}
	dag := NewDagStore(opts.Blocks)
	schedule := NewLeaderSchedule(committee)
	return &Core{
		committee:   committee,
		dag:         dag,
		manager:     NewBlockManager(committee, dag, log),
		committer:   NewCommitter(committee, dag, schedule, log),
		linearizer:  NewLinearizer(committee, dag),
		finalizer:   NewFinalizer(opts.LastCommit, opts.WAL, opts.Commits),
		lastDecided: opts.LastDecided,
		decidedSnap: opts.LastDecided,
		commitSnap:  opts.LastCommit,
		slots:       opts.Slots,
		incoming:    make(chan []*VerifiedBlock, opts.OutDepth),
		out:         make(chan *CommittedSubDag, opts.OutDepth),
		clock:       opts.Clock,
		log:         log,
	}
}

// Dag exposes the store for recovery loading and for the api layer.
func (c *Core) Dag() *DagStore { return c.dag }

// BlockManager exposes the ingestion boundary for recovery and tests.
func (c *Core) BlockManager() *BlockManager { return c.manager }

// LastDecided returns the highest decided slot. Safe for concurrent use.
func (c *Core) LastDecided() Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.decidedSnap
}

// LastCommit returns the most recent finalized commit ref. Safe for
// concurrent use.
func (c *Core) LastCommit() CommitRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.commitSnap
}

// MissingAncestors snapshots the refs blocking suspended blocks, for the
// synchronizer to fetch. Safe for concurrent use.
func (c *Core) MissingAncestors() []BlockRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]BlockRef(nil), c.missingSnap...)
}

// Commits is the downstream stream of finalized sub-DAGs. Each value is
// emitted exactly once, in increasing commit index order.
func (c *Core) Commits() <-chan *CommittedSubDag { return c.out }

// SubmitBlocks queues verified blocks for the pipeline goroutine. Safe for
// concurrent use; blocks when the pipeline is saturated.
func (c *Core) SubmitBlocks(ctx context.Context, blocks []*VerifiedBlock) error {
	select {
	case c.incoming <- blocks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddBlocks runs one synchronous ingest+decide pass. Used by recovery and
// by tests that drive the pipeline without the Run goroutine.
func (c *Core) AddBlocks(blocks []*VerifiedBlock) (AcceptedBlocks, error) {
	accepted, err := c.manager.TryAcceptBlocks(blocks)
	if err != nil {
		return accepted, err
	}
	c.mu.Lock()
	c.missingSnap = c.manager.MissingAncestors()
	c.mu.Unlock()
	if len(accepted.Accepted) > 0 {
		if err := c.process(); err != nil {
			return accepted, err
		}
	}
	return accepted, nil
}

// Recover reloads persisted state before Run: every stored block is
// re-accepted (they are causally complete, so round order accepts them
// all), then each persisted commit is replayed in index order to rebuild
// the linearizer's exclusion set and vote tallies. Nothing is re-decided
// or re-emitted.
func (c *Core) Recover(blocks []*VerifiedBlock, commits []*CommittedSubDag) error {
	if _, err := c.manager.TryAcceptBlocks(blocks); err != nil {
		return fmt.Errorf("recover blocks: %w", err)
	}
	if !c.manager.HasNoSuspendedBlocks() {
		return fmt.Errorf("recover: persisted blocks left %d suspended", len(c.manager.MissingAncestors()))
	}
	for _, sub := range commits {
		c.linearizer.ReplayCommitted(sub)
	}
	if c.log != nil {
		c.log.Infow("core_recovered", "blocks", c.dag.Len(), "commits", len(commits))
	}
	return nil
}

// Run owns the pipeline until ctx is cancelled. Cancellation lands between
// decision passes, never inside one.
func (c *Core) Run(ctx context.Context) error {
	if c.log != nil {
		c.log.Infow("core_started",
			"authorities", c.committee.Size(),
			"quorum", c.committee.QuorumThreshold(),
			"last_decided", c.lastDecided.String(),
			"last_commit", c.finalizer.LastCommit().String())
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case blocks := <-c.incoming:
			if _, err := c.AddBlocks(blocks); err != nil {
				return fmt.Errorf("core pipeline: %w", err)
			}
		}
	}
}

// process re-runs the committer from the last decided slot and drains every
// newly resolved decision through the linearizer and finalizer.
func (c *Core) process() error {
	for _, status := range c.committer.TryDecide(c.lastDecided) {
		switch status.Kind {
		case LeaderCommit:
			sub, err := c.finalizer.Finalize(c.linearizer.Linearize(status.Block))
			if err != nil {
				return err
			}
			if c.log != nil {
				latency := time.Duration(c.clock.Now().UnixNano() - sub.Timestamp)
				c.log.Infow("commit",
					"index", sub.Ref.Index,
					"leader", sub.Leader.String(),
					"blocks", len(sub.Blocks),
					"rejected", len(sub.Rejected),
					"latency", latency)
			}
			c.out <- sub
		case LeaderSkip:
			if c.log != nil {
				c.log.Infow("leader_skipped", "slot", status.Slot.String())
			}
		case LeaderUndecided:
			panic(fmt.Sprintf("committer returned undecided slot %s", status.Slot))
		}
		c.lastDecided = status.Slot
		c.mu.Lock()
		c.decidedSnap = c.lastDecided
		c.commitSnap = c.finalizer.LastCommit()
		c.mu.Unlock()
		if c.slots != nil {
			if err := c.slots.PutLastDecided(c.lastDecided); err != nil {
				return fmt.Errorf("persist last decided %s: %w", c.lastDecided, err)
			}
		}
	}
	return nil
}
