package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

// Registry is the participant file format of the registry client.
type Registry struct {
	Miners     []entities.MinerRecord     `json:"miners"`
	Validators []entities.ValidatorRecord `json:"validators"`
}

// RegistryClient is a Client backed by a participant registry file instead
// of a live chain connection. Used for deployments and tests where the
// validator set is managed out of band; score submissions are recorded in
// the log only. The file is re-read on every metagraph refresh so edits
// take effect without a restart.
type RegistryClient struct {
	path   string
	logger *zap.SugaredLogger

	mu       sync.Mutex
	registry Registry
}

func NewRegistryClient(path string, logger *zap.SugaredLogger) (*RegistryClient, error) {
	client := &RegistryClient{path: path, logger: logger}
	if err := client.reload(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *RegistryClient) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return errors.Wrapf(err, "reading registry file [%s]", c.path)
	}
	var registry Registry
	if err := json.Unmarshal(data, &registry); err != nil {
		return errors.Wrapf(err, "parsing registry file [%s]", c.path)
	}
	c.mu.Lock()
	c.registry = registry
	c.mu.Unlock()
	return nil
}

func (c *RegistryClient) GetActiveMiners(_ context.Context) ([]entities.MinerRecord, error) {
	if err := c.reload(); err != nil {
		c.logger.Warnw("could not reload registry, serving cached view", "error", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Miners, nil
}

func (c *RegistryClient) GetActiveValidators(_ context.Context) ([]entities.ValidatorRecord, error) {
	if err := c.reload(); err != nil {
		c.logger.Warnw("could not reload registry, serving cached view", "error", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Validators, nil
}

func (c *RegistryClient) SubmitScoreUpdate(_ context.Context, slot uint64, updates []ScoreUpdate) (string, error) {
	c.logger.Infow("registry client has no chain connection, logging score update only",
		"slot", slot, "miners", len(updates))
	return fmt.Sprintf("registry-%d-%d", slot, time.Now().Unix()), nil
}

func (c *RegistryClient) WaitForConfirmation(_ context.Context, _ string) error {
	return nil
}
