// Restart recovery against the real pebble store: a node killed mid-stream
// reloads blocks, commits and heads from disk and continues the commit
// chain exactly where a never-restarted node would be.
package tests

import (
	"path/filepath"
	"testing"

	"github.com/daehankim/dagwave/pkg/consensus"
	"github.com/daehankim/dagwave/pkg/consensus/dagtest"
	"github.com/daehankim/dagwave/pkg/storage"
)

func openCore(t *testing.T, committee *consensus.Committee, dir string) (*consensus.Core, *storage.PebbleStore) {
	t.Helper()
	store, err := storage.NewPebbleStore(filepath.Join(dir, "pebble"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	lastDecided, _, err := store.LastDecided()
	if err != nil {
		t.Fatalf("load last decided: %v", err)
	}
	lastCommit, _, err := store.LastCommit()
	if err != nil {
		t.Fatalf("load last commit: %v", err)
	}
	blocks, err := store.LoadBlocks()
	if err != nil {
		t.Fatalf("load blocks: %v", err)
	}

	core := consensus.NewCore(committee, consensus.CoreOptions{
		LastDecided: lastDecided,
		LastCommit:  lastCommit,
		Blocks:      store,
		Commits:     store,
		Slots:       store,
	}, nil)

	byRef := make(map[consensus.BlockRef]*consensus.VerifiedBlock, len(blocks))
	for _, b := range blocks {
		byRef[b.Ref()] = b
	}
	commits, err := store.LoadCommits(func(ref consensus.BlockRef) (*consensus.VerifiedBlock, bool) {
		b, ok := byRef[ref]
		return b, ok
	})
	if err != nil {
		t.Fatalf("load commits: %v", err)
	}
	if err := core.Recover(append(consensus.GenesisBlocks(committee), blocks...), commits); err != nil {
		t.Fatalf("recover: %v", err)
	}
	return core, store
}

func TestRestartContinuesCommitChain(t *testing.T) {
	committee := consensus.NewCommitteeForTest(4)
	builder := dagtest.NewBuilder(committee, 110)
	builder.AddFullRounds(12)
	blocks := builder.Blocks()
	n := committee.Size()
	prefix := blocks[:n+7*n] // genesis plus rounds 1..7

	reference := consensus.NewCore(committee, consensus.CoreOptions{}, nil)
	if _, err := reference.AddBlocks(blocks); err != nil {
		t.Fatalf("reference add: %v", err)
	}
	want := drainCommits(reference)
	if len(want) != 10 {
		t.Fatalf("reference finalized %d commits, want 10", len(want))
	}

	dir := t.TempDir()

	// first life: rounds 1..7, then the process dies
	core1, store1 := openCore(t, committee, dir)
	if _, err := core1.AddBlocks(prefix); err != nil {
		t.Fatalf("first life add: %v", err)
	}
	before := drainCommits(core1)
	if len(before) != 5 {
		t.Fatalf("first life finalized %d commits, want 5", len(before))
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// second life: resume from disk, then the missing rounds arrive
	core2, store2 := openCore(t, committee, dir)
	defer store2.Close()
	if got := drainCommits(core2); len(got) != 0 {
		t.Fatalf("recovery re-emitted %d commits", len(got))
	}
	if core2.LastCommit() != before[len(before)-1].Ref {
		t.Fatalf("resumed chain head %s, want %s",
			core2.LastCommit(), before[len(before)-1].Ref)
	}
	if _, err := core2.AddBlocks(blocks[len(prefix):]); err != nil {
		t.Fatalf("second life add: %v", err)
	}
	after := drainCommits(core2)

	combined := append(before, after...)
	if len(combined) != len(want) {
		t.Fatalf("restarted run finalized %d commits, reference %d", len(combined), len(want))
	}
	for i := range want {
		if combined[i].Ref != want[i].Ref {
			t.Fatalf("commit %d = %s after restart, reference %s",
				i, combined[i].Ref, want[i].Ref)
		}
	}
}
