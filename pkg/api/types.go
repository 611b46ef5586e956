package api

// JSON types for the REST endpoints and the websocket commit stream.

// StatusResponse describes the node's consensus position.
type StatusResponse struct {
	Epoch            uint64 `json:"epoch"`
	Authorities      int    `json:"authorities"`
	QuorumStake      uint64 `json:"quorumStake"`
	TotalStake       uint64 `json:"totalStake"`
	HighestRound     uint32 `json:"highestRound"`
	StoredBlocks     int    `json:"storedBlocks"`
	LastDecidedRound uint32 `json:"lastDecidedRound"`
	LastCommitIndex  uint64 `json:"lastCommitIndex"`
	LastCommitDigest string `json:"lastCommitDigest"`
}

// BlockRefInfo is a block reference in wire-friendly form.
type BlockRefInfo struct {
	Round  uint32 `json:"round"`
	Author uint32 `json:"author"`
	Digest string `json:"digest"`
}

// RejectedInfo lists the quorum-rejected transaction indices of one block.
type RejectedInfo struct {
	Block   BlockRefInfo `json:"block"`
	Indices []uint16     `json:"indices"`
}

// CommitResponse is one finalized commit, blocks by reference.
type CommitResponse struct {
	Index     uint64         `json:"index"`
	Digest    string         `json:"digest"`
	Leader    BlockRefInfo   `json:"leader"`
	Blocks    []BlockRefInfo `json:"blocks"`
	Rejected  []RejectedInfo `json:"rejected,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// CommitUpdate is broadcast on the websocket "commits" channel for every
// finalized commit, in index order.
type CommitUpdate struct {
	Type      string       `json:"type"` // "commit"
	Index     uint64       `json:"index"`
	Digest    string       `json:"digest"`
	Leader    BlockRefInfo `json:"leader"`
	Blocks    int          `json:"blocks"`
	Rejected  int          `json:"rejected"`
	Timestamp int64        `json:"timestamp"`
}

// WSSubscribeRequest is sent by clients to manage channel subscriptions.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["commits"]
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
