// file: pkg/consensus/genesis.go
package consensus

// GenesisBlocks returns the round-0 block of every authority. Genesis
// blocks carry no ancestors, no payload and a zero timestamp, so every
// replica derives identical refs from the committee alone. They are
// injected at startup without passing VerifyBlockForm (which demands a
// positive round) and anchor the round-1 ancestor quorum.
func GenesisBlocks(c *Committee) []*VerifiedBlock {
	out := make([]*VerifiedBlock, c.Size())
	for i := range out {
		out[i] = NewVerifiedBlock(Block{
			Round:  0,
			Author: AuthorityIndex(i),
		}, nil)
	}
	return out
}
