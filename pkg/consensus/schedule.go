// file: pkg/consensus/schedule.go
package consensus

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// scheduleVersion is folded into the per-round seed. Bumping it across a
// protocol upgrade reshuffles future rounds without touching slots that
// were already decided under the old version.
const scheduleVersion = uint8(1)

// LeaderSchedule maps each round to its expected leader: a stake-weighted
// deterministic pseudo-random choice seeded by (epoch seed, epoch, round).
// Pure function of the committee and the round; no state, no I/O, so every
// authority derives the same leader without communication.
//
// Selection is fitness-proportionate: a round's randomness is reduced mod
// total stake and mapped onto the cumulative stake ranges of the
// authorities, so an authority's chance of leading is proportional to its
// stake and zero-stake members never lead.
type LeaderSchedule struct {
	committee *Committee
	cumStake  []Stake // cumStake[i] = sum of stakes of authorities 0..i
}

func NewLeaderSchedule(c *Committee) *LeaderSchedule {
	cum := make([]Stake, c.Size())
	var sum Stake
	for i := range cum {
		sum += c.Stake(AuthorityIndex(i))
		cum[i] = sum
	}
	return &LeaderSchedule{committee: c, cumStake: cum}
}

// LeaderForRound returns the authority expected to lead the round.
func (s *LeaderSchedule) LeaderForRound(r Round) AuthorityIndex {
	pick := s.roundRandomness(r) % uint64(s.committee.TotalStake())
	return AuthorityIndex(searchStrictlyBigger(Stake(pick), s.cumStake))
}

// LeaderSlot is LeaderForRound packaged as the slot the committer decides.
func (s *LeaderSchedule) LeaderSlot(r Round) Slot {
	return Slot{Round: r, Author: s.LeaderForRound(r)}
}

func (s *LeaderSchedule) roundRandomness(r Round) uint64 {
	h := sha3.New256()
	h.Write([]byte{'l', 'd', 'r', scheduleVersion})
	seed := s.committee.Seed()
	h.Write(seed[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.committee.Epoch())
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], uint32(r))
	h.Write(buf[:4])
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}

// searchStrictlyBigger returns the index of the first cumulative value
// strictly bigger than v. cum is non-empty and non-decreasing, and v is
// less than its last element.
func searchStrictlyBigger(v Stake, cum []Stake) int {
	left, right := 0, len(cum)-1
	for left < right {
		mid := (left + right) >> 1
		if cum[mid] <= v {
			left = mid + 1
		} else {
			right = mid
		}
	}
	return left
}
