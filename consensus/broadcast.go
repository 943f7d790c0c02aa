package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

const receiveScoresPath = "/consensus/receive-scores"

// Broadcaster fans a signed score payload out to every active peer
// validator. Individual peer failures are logged and counted, never fatal;
// consensus degrades gracefully when peers are unreachable.
type Broadcaster struct {
	client *http.Client
	logger *zap.SugaredLogger
}

func NewBroadcaster(timeout time.Duration, logger *zap.SugaredLogger) *Broadcaster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Broadcaster{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Broadcast posts the payload to each peer concurrently and returns the
// number of peers that accepted it. The local validator must not be in the
// peer list.
func (b *Broadcaster) Broadcast(ctx context.Context, payload ScorePayload, peers []entities.ValidatorRecord) int {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Errorw("error marshalling score payload", "slot", payload.Cycle, "error", err)
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for _, peer := range peers {
		if peer.UID == payload.SubmitterID || peer.Endpoint == "" {
			continue
		}
		wg.Add(1)
		go func(peer entities.ValidatorRecord) {
			defer wg.Done()
			if err := b.send(ctx, peer.Endpoint, data); err != nil {
				b.logger.Warnw("peer rejected score payload",
					"slot", payload.Cycle, "peer", peer.UID, "endpoint", peer.Endpoint, "error", err)
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}(peer)
	}
	wg.Wait()

	b.logger.Infow("broadcast finished", "slot", payload.Cycle, "peers", len(peers), "accepted", accepted)
	return accepted
}

func (b *Broadcaster) send(ctx context.Context, endpoint string, body []byte) error {
	url := endpoint + receiveScoresPath
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := b.client.Do(request)
	if err != nil {
		return errors.Wrap(err, "performing request")
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusAccepted && response.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("got status %d: %s", response.StatusCode, message)
	}
	return nil
}
