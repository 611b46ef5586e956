// file: pkg/consensus/committer.go
package consensus

import (
	"go.uber.org/zap"
)

// Committer is the wave decision engine. For each leader slot after the
// last decided one it inspects the two following rounds and resolves the
// slot to Commit, Skip or Undecided:
//
//   - a round-R+1 block *votes* for a leader candidate iff it references it;
//   - a round-R+2 block is a *certificate* for a candidate iff the stake of
//     its referenced R+1 voters reaches quorum;
//   - Commit when certificate stake reaches quorum,
//   - Skip when the stake of R+1 authorities voting for no candidate
//     reaches quorum,
//   - Undecided otherwise.
//
// Both conditions grow monotonically as the DAG grows and can never both
// hold (vote stake + blame stake <= total + f < 2 quorums), so a slot
// resolved on any snapshot resolves identically on every larger one. That
// is the agreement argument: replicas seeing blocks in different orders
// still decide every slot the same way.
//
// Equivocating leaders: candidates are examined in ascending digest order;
// since an R+1 block carries at most one ancestor per authority, at most
// one candidate can reach certification quorum.
type Committer struct {
	committee *Committee
	dag       *DagStore
	schedule  *LeaderSchedule
	log       *zap.SugaredLogger
}

func NewCommitter(committee *Committee, dag *DagStore, schedule *LeaderSchedule, log *zap.SugaredLogger) *Committer {
	return &Committer{committee: committee, dag: dag, schedule: schedule, log: log}
}

// TryDecide resolves leader slots in round order starting immediately after
// lastDecided, stopping at the first undecided slot so the caller always
// receives a gap-free prefix. Absence of information is expressed as a
// short (possibly empty) result, never as an error; call again after more
// blocks are accepted.
func (c *Committer) TryDecide(lastDecided Slot) []LeaderStatus {
	var out []LeaderStatus
	highest := c.dag.HighestRound()
	for r := lastDecided.Round + 1; r+2 <= highest; r++ {
		status := c.decideSlot(r)
		if status.Kind == LeaderUndecided {
			break
		}
		out = append(out, status)
		if c.log != nil {
			c.log.Debugw("slot_decided", "slot", status.Slot.String(), "kind", status.Kind.String())
		}
	}
	return out
}

func (c *Committer) decideSlot(r Round) LeaderStatus {
	slot := c.schedule.LeaderSlot(r)

	// Digest-sorted by the store; ascending digest is the protocol's
	// equivocation tie-break.
	for _, candidate := range c.dag.BlocksAtSlot(slot) {
		if c.isCertifiedLeader(candidate) {
			return LeaderStatus{Slot: slot, Kind: LeaderCommit, Block: candidate}
		}
	}
	if c.isSkippedLeader(slot) {
		return LeaderStatus{Slot: slot, Kind: LeaderSkip}
	}
	return LeaderStatus{Slot: slot, Kind: LeaderUndecided}
}

// isCertifiedLeader checks the direct-commit rule: quorum stake of
// round-R+2 authorities own a certificate for the candidate.
func (c *Committer) isCertifiedLeader(candidate *VerifiedBlock) bool {
	ref := candidate.Ref()
	certs := NewStakeAggregator(c.committee)
	for _, author := range c.dag.AuthorsAtRound(ref.Round + 2) {
		for _, b := range c.dag.BlocksAtSlot(Slot{Round: ref.Round + 2, Author: author}) {
			if c.isCertificate(b, ref) {
				if certs.Add(author) {
					return true
				}
				break
			}
		}
	}
	return false
}

// isCertificate reports whether the round-R+2 block observes quorum stake
// of round-R+1 votes for the leader candidate. A stored block's ancestors
// are always stored, so vote contents are available by construction.
func (c *Committer) isCertificate(b *VerifiedBlock, leader BlockRef) bool {
	votes := NewStakeAggregator(c.committee)
	for _, a := range b.Ancestors {
		if a.Round != leader.Round+1 {
			continue
		}
		voter := c.dag.MustGet(a)
		if voter.Includes(leader) {
			if votes.Add(a.Author) {
				return true
			}
		}
	}
	return false
}

// isSkippedLeader checks the direct-skip rule: quorum stake of round-R+1
// authorities produced a block that references no block of the leader
// author at R. Those authorities can never contribute votes, so no
// candidate can ever be certified.
func (c *Committer) isSkippedLeader(slot Slot) bool {
	blame := NewStakeAggregator(c.committee)
	for _, author := range c.dag.AuthorsAtRound(slot.Round + 1) {
		for _, b := range c.dag.BlocksAtSlot(Slot{Round: slot.Round + 1, Author: author}) {
			if ancestor, ok := b.AncestorByAuthor(slot.Author); !ok || ancestor.Round != slot.Round {
				if blame.Add(author) {
					return true
				}
				break
			}
		}
	}
	return false
}
