package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
)

const taskPath = "/v1/tasks"

// HTTPSender delivers task assignments to miner endpoints. Miners answer
// asynchronously through the validator's submit-result endpoint, so a 2xx
// here only acknowledges receipt.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) SendTask(ctx context.Context, miner entities.MinerRecord, task entities.TaskAssignment) error {
	if miner.Endpoint == "" {
		return errors.Errorf("miner [%s] has no endpoint", miner.UID)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(err, "marshalling task")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, miner.Endpoint+taskPath, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return errors.Wrap(err, "performing request")
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return fmt.Errorf("got status %d: %s", response.StatusCode, message)
	}
	return nil
}
