// file: pkg/consensus/committee.go
package consensus

// Authority is one committee member: a stake weight plus the author's
// BLS public key bytes (verification happens upstream of this package).
type Authority struct {
	Stake       Stake
	ProtocolKey []byte
	Hostname    string
}

// Committee is the static per-epoch authority set. Immutable after
// construction; every component shares one instance per run.
type Committee struct {
	epoch       uint64
	seed        Hash
	authorities []Authority
	totalStake  Stake
	quorum      Stake
	validity    Stake
}

// NewCommittee builds the epoch committee. seed feeds the leader schedule
// and must be agreed out of band (e.g. from the prior epoch's last commit).
func NewCommittee(epoch uint64, seed Hash, authorities []Authority) *Committee {
	c := &Committee{epoch: epoch, seed: seed, authorities: authorities}
	for _, a := range authorities {
		c.totalStake += a.Stake
	}
	// 2f+1 equivalent under arbitrary stake: strictly more than 2/3.
	c.quorum = 2*c.totalStake/3 + 1
	c.validity = c.totalStake/3 + 1
	return c
}

// NewCommitteeForTest returns a committee of n equally-staked authorities.
func NewCommitteeForTest(n int) *Committee {
	auths := make([]Authority, n)
	for i := range auths {
		auths[i] = Authority{Stake: 1}
	}
	return NewCommittee(0, Hash{}, auths)
}

func (c *Committee) Epoch() uint64 { return c.epoch }
func (c *Committee) Seed() Hash    { return c.seed }
func (c *Committee) Size() int     { return len(c.authorities) }

func (c *Committee) TotalStake() Stake      { return c.totalStake }
func (c *Committee) QuorumThreshold() Stake { return c.quorum }

// ValidityThreshold is f+1 stake: enough to contain one honest authority.
func (c *Committee) ValidityThreshold() Stake { return c.validity }

func (c *Committee) Stake(i AuthorityIndex) Stake {
	return c.authorities[i].Stake
}

func (c *Committee) Authority(i AuthorityIndex) Authority {
	return c.authorities[i]
}

func (c *Committee) IsValidIndex(i AuthorityIndex) bool {
	return int(i) < len(c.authorities)
}

// ReachedQuorum reports whether stake meets the 2f+1 threshold.
func (c *Committee) ReachedQuorum(s Stake) bool { return s >= c.quorum }

// StakeAggregator accumulates stake from distinct authorities. The same
// authority counted twice (equivocation) contributes once.
type StakeAggregator struct {
	committee *Committee
	seen      map[AuthorityIndex]struct{}
	total     Stake
}

func NewStakeAggregator(c *Committee) *StakeAggregator {
	return &StakeAggregator{committee: c, seen: make(map[AuthorityIndex]struct{})}
}

// Add counts the authority's stake once. Returns true if the quorum
// threshold is reached after adding.
func (a *StakeAggregator) Add(i AuthorityIndex) bool {
	if _, ok := a.seen[i]; !ok {
		a.seen[i] = struct{}{}
		a.total += a.committee.Stake(i)
	}
	return a.committee.ReachedQuorum(a.total)
}

func (a *StakeAggregator) Stake() Stake { return a.total }

func (a *StakeAggregator) ReachedQuorum() bool {
	return a.committee.ReachedQuorum(a.total)
}
