package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synapnet/go-validator-node/consensus"
	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

type FakeConsensusService struct {
	receiveErr error
	received   []consensus.ScorePayload
	rounds     map[uint64]entities.ConsensusRound
}

func (f *FakeConsensusService) Receive(payload consensus.ScorePayload) error {
	if f.receiveErr != nil {
		return f.receiveErr
	}
	f.received = append(f.received, payload)
	return nil
}

func (f *FakeConsensusService) Round(slot uint64) (entities.ConsensusRound, bool) {
	round, ok := f.rounds[slot]
	return round, ok
}

func (f *FakeConsensusService) ActiveCycle(current, cycle uint64) bool {
	return cycle == current || cycle == current+1
}

type FakeResultSink struct {
	addErr error
	added  []entities.MinerResult
}

func (f *FakeResultSink) Add(result entities.MinerResult) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, result)
	return nil
}

type FakeNodeInfo struct {
	status    NodeStatus
	metagraph Metagraph
}

func (f *FakeNodeInfo) Status() NodeStatus   { return f.status }
func (f *FakeNodeInfo) Metagraph() Metagraph { return f.metagraph }

func newTestServer(consensusService *FakeConsensusService, results *FakeResultSink, node *FakeNodeInfo) *httptest.Server {
	if consensusService.rounds == nil {
		consensusService.rounds = make(map[uint64]entities.ConsensusRound)
	}
	server := NewServer(consensusService, results, node, zap.NewNop().Sugar())
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	response, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func TestServer_receiveScoresAccepted(t *testing.T) {
	consensusService := &FakeConsensusService{}
	server := newTestServer(consensusService, &FakeResultSink{}, &FakeNodeInfo{status: NodeStatus{Slot: 5}})
	defer server.Close()

	payload := consensus.ScorePayload{SubmitterID: "validator-2", Cycle: 5}
	response := postJSON(t, server.URL+"/consensus/receive-scores", payload)

	assert.Equal(t, http.StatusAccepted, response.StatusCode)
	require.Len(t, consensusService.received, 1)
	assert.Equal(t, "validator-2", consensusService.received[0].SubmitterID)
}

func TestServer_receiveScoresMalformedBody(t *testing.T) {
	server := newTestServer(&FakeConsensusService{}, &FakeResultSink{}, &FakeNodeInfo{})
	defer server.Close()

	response, err := http.Post(server.URL+"/consensus/receive-scores", "application/json", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
}

func TestServer_receiveScoresStaleCycle(t *testing.T) {
	consensusService := &FakeConsensusService{}
	server := newTestServer(consensusService, &FakeResultSink{}, &FakeNodeInfo{status: NodeStatus{Slot: 5}})
	defer server.Close()

	response := postJSON(t, server.URL+"/consensus/receive-scores", consensus.ScorePayload{Cycle: 3})

	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	assert.Empty(t, consensusService.received)
}

func TestServer_receiveScoresBadSignature(t *testing.T) {
	consensusService := &FakeConsensusService{receiveErr: entities.ErrSignatureVerification}
	server := newTestServer(consensusService, &FakeResultSink{}, &FakeNodeInfo{status: NodeStatus{Slot: 5}})
	defer server.Close()

	response := postJSON(t, server.URL+"/consensus/receive-scores", consensus.ScorePayload{Cycle: 5})

	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
}

func TestServer_receiveScoresUnknownSender(t *testing.T) {
	consensusService := &FakeConsensusService{receiveErr: entities.ErrUnknownParticipant}
	server := newTestServer(consensusService, &FakeResultSink{}, &FakeNodeInfo{status: NodeStatus{Slot: 5}})
	defer server.Close()

	response := postJSON(t, server.URL+"/consensus/receive-scores", consensus.ScorePayload{Cycle: 5})

	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
}

func TestServer_submitResultAck(t *testing.T) {
	results := &FakeResultSink{}
	server := newTestServer(&FakeConsensusService{}, results, &FakeNodeInfo{})
	defer server.Close()

	response := postJSON(t, server.URL+"/v1/miner/submit-result", entities.MinerResult{TaskID: "5-0-miner-1", MinerUID: "miner-1"})

	assert.Equal(t, http.StatusOK, response.StatusCode)
	require.Len(t, results.added, 1)
	assert.False(t, results.added[0].ReceivedAt.IsZero())
}

func TestServer_submitResultUnknownTaskStillAcked(t *testing.T) {
	results := &FakeResultSink{addErr: entities.ErrUnknownTask}
	server := newTestServer(&FakeConsensusService{}, results, &FakeNodeInfo{})
	defer server.Close()

	response := postJSON(t, server.URL+"/v1/miner/submit-result", entities.MinerResult{TaskID: "stale-task"})

	assert.Equal(t, http.StatusOK, response.StatusCode)
}

func TestServer_health(t *testing.T) {
	server := newTestServer(&FakeConsensusService{}, &FakeResultSink{}, &FakeNodeInfo{})
	defer server.Close()

	response, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer response.Body.Close()

	assert.Equal(t, http.StatusOK, response.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(response.Body).Decode(&body))
	assert.Equal(t, "UP", body["status"])
}

func TestServer_metagraph(t *testing.T) {
	node := &FakeNodeInfo{metagraph: Metagraph{
		Miners: []entities.MinerRecord{{UID: "miner-1", Stake: 100}},
		Trust:  map[string]float64{"miner-1": 0.7},
	}}
	server := newTestServer(&FakeConsensusService{}, &FakeResultSink{}, node)
	defer server.Close()

	response, err := http.Get(server.URL + "/metagraph")
	require.NoError(t, err)
	defer response.Body.Close()

	var metagraph Metagraph
	require.NoError(t, json.NewDecoder(response.Body).Decode(&metagraph))
	require.Len(t, metagraph.Miners, 1)
	assert.Equal(t, 0.7, metagraph.Trust["miner-1"])
}

func TestServer_consensusResults(t *testing.T) {
	consensusService := &FakeConsensusService{rounds: map[uint64]entities.ConsensusRound{
		4: {Slot: 4, Status: entities.RoundStatusDegraded},
	}}
	server := newTestServer(consensusService, &FakeResultSink{}, &FakeNodeInfo{})
	defer server.Close()

	response, err := http.Get(server.URL + "/consensus/results/4")
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	var round entities.ConsensusRound
	require.NoError(t, json.NewDecoder(response.Body).Decode(&round))
	assert.Equal(t, entities.RoundStatusDegraded, round.Status)

	missing, err := http.Get(server.URL + "/consensus/results/9")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	invalid, err := http.Get(server.URL + "/consensus/results/not-a-slot")
	require.NoError(t, err)
	defer invalid.Body.Close()
	assert.Equal(t, http.StatusBadRequest, invalid.StatusCode)
}
