package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/consensus"
	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

// ConsensusService is the consensus-facing surface of the server: accepting
// peer score payloads and answering round queries.
type ConsensusService interface {
	Receive(payload consensus.ScorePayload) error
	Round(slot uint64) (entities.ConsensusRound, bool)
	ActiveCycle(current, cycle uint64) bool
}

// ResultSink takes miner task results; results for unknown tasks are
// rejected with entities.ErrUnknownTask.
type ResultSink interface {
	Add(result entities.MinerResult) error
}

// NodeStatus is the externally visible position and progress of the node.
type NodeStatus struct {
	ValidatorUID      string         `json:"validatorUid"`
	Slot              uint64         `json:"slot"`
	Phase             entities.Phase `json:"phase"`
	PhaseRemaining    string         `json:"phaseRemaining"`
	LastFinalizedSlot uint64         `json:"lastFinalizedSlot"`
}

// Metagraph is the node's current view of the network participants.
type Metagraph struct {
	Miners     []entities.MinerRecord     `json:"miners"`
	Validators []entities.ValidatorRecord `json:"validators"`
	Trust      map[string]float64         `json:"trust"`
}

type NodeInfoProvider interface {
	Status() NodeStatus
	Metagraph() Metagraph
}

type Server struct {
	consensusService ConsensusService
	results          ResultSink
	node             NodeInfoProvider
	logger           *zap.SugaredLogger
	now              func() time.Time
}

func NewServer(consensusService ConsensusService, results ResultSink, node NodeInfoProvider, logger *zap.SugaredLogger) *Server {
	return &Server{
		consensusService: consensusService,
		results:          results,
		node:             node,
		logger:           logger,
		now:              time.Now,
	}
}

// RegisterRoutes attaches all handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /consensus/receive-scores", s.handleReceiveScores)
	mux.HandleFunc("POST /v1/miner/submit-result", s.handleSubmitResult)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metagraph", s.handleMetagraph)
	mux.HandleFunc("GET /consensus/info", s.handleConsensusInfo)
	mux.HandleFunc("GET /consensus/results/{slot}", s.handleConsensusResults)
}

func (s *Server) handleReceiveScores(w http.ResponseWriter, r *http.Request) {
	var payload consensus.ScorePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	current := s.node.Status().Slot
	if !s.consensusService.ActiveCycle(current, payload.Cycle) {
		writeError(w, http.StatusBadRequest, "cycle out of range")
		return
	}

	if err := s.consensusService.Receive(payload); err != nil {
		if errors.Is(err, entities.ErrUnknownParticipant) || errors.Is(err, entities.ErrSignatureVerification) {
			s.logger.Warnw("rejected score payload", "submitter", payload.SubmitterID, "cycle", payload.Cycle, "error", err)
			writeError(w, http.StatusUnauthorized, "payload verification failed")
			return
		}
		s.logger.Errorw("error receiving score payload", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	var result entities.MinerResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		writeError(w, http.StatusBadRequest, "malformed result")
		return
	}
	result.ReceivedAt = s.now()

	if err := s.results.Add(result); err != nil {
		// late or duplicate results arrive after their task was resolved,
		// the miner gets an ack either way
		if !errors.Is(err, entities.ErrUnknownTask) {
			s.logger.Errorw("error accepting miner result", "taskId", result.TaskID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func (s *Server) handleMetagraph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Metagraph())
}

func (s *Server) handleConsensusInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handleConsensusResults(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.ParseUint(r.PathValue("slot"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid slot")
		return
	}

	round, ok := s.consensusService.Round(slot)
	if !ok {
		writeError(w, http.StatusNotFound, "no finalized round for slot")
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
