// file: pkg/consensus/schedule_test.go
package consensus_test

import (
	"testing"

	"github.com/daehankim/dagwave/pkg/consensus"
)

func TestLeaderScheduleIsDeterministic(t *testing.T) {
	committee := consensus.NewCommitteeForTest(7)
	s1 := consensus.NewLeaderSchedule(committee)
	s2 := consensus.NewLeaderSchedule(committee)
	for r := consensus.Round(1); r <= 500; r++ {
		l1, l2 := s1.LeaderForRound(r), s2.LeaderForRound(r)
		if l1 != l2 {
			t.Fatalf("round %d: independent schedules disagree (%d vs %d)", r, l1, l2)
		}
		if !committee.IsValidIndex(l1) {
			t.Fatalf("round %d: leader %d outside committee", r, l1)
		}
	}
}

func TestLeaderScheduleVariesWithSeedAndEpoch(t *testing.T) {
	base := consensus.NewLeaderSchedule(consensus.NewCommitteeForTest(7))

	seeded := consensus.NewLeaderSchedule(consensus.NewCommittee(0, consensus.Hash{1}, equalStakes(7)))
	epoch := consensus.NewLeaderSchedule(consensus.NewCommittee(1, consensus.Hash{}, equalStakes(7)))

	sameSeed, sameEpoch := 0, 0
	const rounds = 200
	for r := consensus.Round(1); r <= rounds; r++ {
		if base.LeaderForRound(r) == seeded.LeaderForRound(r) {
			sameSeed++
		}
		if base.LeaderForRound(r) == epoch.LeaderForRound(r) {
			sameEpoch++
		}
	}
	if sameSeed == rounds {
		t.Fatalf("changing the seed never changed a leader over %d rounds", rounds)
	}
	if sameEpoch == rounds {
		t.Fatalf("changing the epoch never changed a leader over %d rounds", rounds)
	}
}

func TestLeaderScheduleIsStakeWeighted(t *testing.T) {
	committee := consensus.NewCommittee(0, consensus.Hash{}, []consensus.Authority{
		{Stake: 60},
		{Stake: 20},
		{Stake: 20},
		{Stake: 0},
	})
	schedule := consensus.NewLeaderSchedule(committee)

	counts := make(map[consensus.AuthorityIndex]int)
	const rounds = 3000
	for r := consensus.Round(1); r <= rounds; r++ {
		counts[schedule.LeaderForRound(r)]++
	}
	if counts[3] != 0 {
		t.Fatalf("zero-stake authority led %d rounds", counts[3])
	}
	if counts[0] <= counts[1] || counts[0] <= counts[2] {
		t.Fatalf("majority-stake authority led %d rounds vs %d and %d",
			counts[0], counts[1], counts[2])
	}
	// 60% of stake should land well above a third of the rounds
	if counts[0] < rounds/2 {
		t.Fatalf("majority-stake authority led only %d of %d rounds", counts[0], rounds)
	}
}

func equalStakes(n int) []consensus.Authority {
	auths := make([]consensus.Authority, n)
	for i := range auths {
		auths[i] = consensus.Authority{Stake: 1}
	}
	return auths
}
