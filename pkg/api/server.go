package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/daehankim/dagwave/pkg/consensus"
	"github.com/daehankim/dagwave/pkg/storage"
)

// CommitStore is the read side of commit persistence the server queries.
type CommitStore interface {
	GetCommit(index uint64) (storage.CommitSummary, bool, error)
}

// Server exposes the node's consensus state over REST and streams finalized
// commits over websocket. Read-only: block ingestion happens on the p2p
// side, and the commit engine carries no transaction submission surface.
type Server struct {
	core      *consensus.Core
	committee *consensus.Committee
	commits   CommitStore
	router    *mux.Router
	hub       *Hub
	log       *zap.SugaredLogger
}

func NewServer(core *consensus.Core, committee *consensus.Committee, commits CommitStore, log *zap.SugaredLogger) *Server {
	s := &Server{
		core:      core,
		committee: committee,
		commits:   commits,
		router:    mux.NewRouter(),
		hub:       NewHub(log),
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/commits/{index}", s.handleGetCommit).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves until the listener fails. Run it in its own goroutine.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	if s.log != nil {
		s.log.Infow("api_listening", "addr", addr)
	}
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// PublishCommit pushes a finalized commit to websocket subscribers. Called
// from the node's commit consumer loop, in index order.
func (s *Server) PublishCommit(sub *consensus.CommittedSubDag) {
	s.hub.BroadcastToChannel("commits", CommitUpdate{
		Type:      "commit",
		Index:     sub.Ref.Index,
		Digest:    hexHash(sub.Ref.Digest),
		Leader:    refInfo(sub.Leader),
		Blocks:    len(sub.Blocks),
		Rejected:  len(sub.Rejected),
		Timestamp: sub.Timestamp,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	lastCommit := s.core.LastCommit()
	respondJSON(w, StatusResponse{
		Epoch:            s.committee.Epoch(),
		Authorities:      s.committee.Size(),
		QuorumStake:      uint64(s.committee.QuorumThreshold()),
		TotalStake:       uint64(s.committee.TotalStake()),
		HighestRound:     uint32(s.core.Dag().HighestRound()),
		StoredBlocks:     s.core.Dag().Len(),
		LastDecidedRound: uint32(s.core.LastDecided().Round),
		LastCommitIndex:  lastCommit.Index,
		LastCommitDigest: hexHash(lastCommit.Digest),
	})
}

func (s *Server) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid index", err.Error())
		return
	}
	rec, ok, err := s.commits.GetCommit(index)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "commit not found", "")
		return
	}

	resp := CommitResponse{
		Index:     rec.Ref.Index,
		Digest:    hexHash(rec.Ref.Digest),
		Leader:    refInfo(rec.Leader),
		Blocks:    make([]BlockRefInfo, 0, len(rec.Blocks)),
		Timestamp: rec.Timestamp,
	}
	for _, ref := range rec.Blocks {
		resp.Blocks = append(resp.Blocks, refInfo(ref))
	}
	for ref, idxs := range rec.Rejected {
		info := RejectedInfo{Block: refInfo(ref), Indices: make([]uint16, 0, len(idxs))}
		for _, i := range idxs {
			info.Indices = append(info.Indices, uint16(i))
		}
		resp.Rejected = append(resp.Rejected, info)
	}
	respondJSON(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func refInfo(ref consensus.BlockRef) BlockRefInfo {
	return BlockRefInfo{
		Round:  uint32(ref.Round),
		Author: uint32(ref.Author),
		Digest: hexHash(ref.Digest),
	}
}

func hexHash(h consensus.Hash) string { return hex.EncodeToString(h[:]) }

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
