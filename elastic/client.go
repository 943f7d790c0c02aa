package elastic

import (
	"bytes"
	"context"
	"log"
	"runtime"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/pkg/errors"
)

type EsDocument struct {
	Id      string
	Payload []byte
}

type Client struct {
	esClient  *elasticsearch.Client
	indexName string
}

func NewClient(esClient *elasticsearch.Client, indexName string) *Client {
	return &Client{
		esClient:  esClient,
		indexName: indexName,
	}
}

// BulkIndex writes the documents through a bulk indexer. Individual item
// failures are logged as they happen and surface once more in the final
// stats check, so a partial flush never passes silently.
func (c *Client) BulkIndex(ctx context.Context, documents []*EsDocument) error {
	start := time.Now()
	indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:      c.indexName,
		Client:     c.esClient,
		NumWorkers: min(runtime.NumCPU(), 8), // 8 parallel connections are enough
	})
	if err != nil {
		return errors.Wrap(err, "creating bulk indexer")
	}

	for _, document := range documents {
		item := esutil.BulkIndexerItem{
			Action:       "index",
			DocumentID:   document.Id,
			RequireAlias: true,
			Body:         bytes.NewReader(document.Payload),
			OnFailure: func(_ context.Context, _ esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					log.Printf("Error indexing round [%s]: %v", document.Id, err)
				} else {
					log.Printf("Error indexing round [%s]: [%s: %s]", document.Id, res.Error.Type, res.Error.Reason)
				}
			},
		}
		if err := indexer.Add(ctx, item); err != nil {
			return errors.Wrapf(err, "adding document [%s] to bulk indexer", document.Id)
		}
	}

	if err := indexer.Close(ctx); err != nil {
		return errors.Wrap(err, "closing bulk indexer")
	}

	stats := indexer.Stats()
	if stats.NumFailed > 0 {
		return errors.Errorf("indexing failed for %d of %d consensus rounds", stats.NumFailed, stats.NumAdded)
	}
	log.Printf("Indexed %d consensus rounds (%d bytes, %d requests) in %v.",
		stats.NumFlushed,
		stats.FlushedBytes,
		stats.NumRequests,
		time.Since(start).Round(time.Millisecond),
	)
	return nil
}
