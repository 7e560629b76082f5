// Package archive persists scored events to OpenSearch for offline
// investigation. Archiving is fail-open: an indexing failure is logged
// and never blocks the detection pipeline.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"
)

// ScoredEvent is the archived view of one processed request event.
type ScoredEvent struct {
	Identity   string    `json:"identity"`
	Status     string    `json:"status"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Method     string    `json:"method,omitempty"`
	Resource   string    `json:"resource,omitempty"`
	Score      int       `json:"score"`
	ScoreRange string    `json:"score_range,omitempty"`
	Alerted    bool      `json:"alerted"`
	Timestamp  time.Time `json:"timestamp"`
}

// Archiver ships scored events to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, events []ScoredEvent) error
}

// Config holds OpenSearch connection and index configuration.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
	ShardCount    int
	ReplicaCount  int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "https://localhost:9200",
		Username:      "admin",
		Password:      "admin",
		TLSSkipVerify: true,
		IndexPrefix:   "sentinel-events",
		ShardCount:    1,
		ReplicaCount:  0,
	}
}

// Client archives events into a date-suffixed index behind a write alias.
type Client struct {
	osClient *opensearch.Client
	config   Config
}

// NewClient creates an OpenSearch archive client.
func NewClient(cfg Config) (*Client, error) {
	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return &Client{osClient: client, config: cfg}, nil
}

// Initialize verifies connectivity and installs the index template and
// initial write index.
func (c *Client) Initialize(ctx context.Context) error {
	info, err := c.osClient.Info()
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if err := c.createIndexTemplate(ctx); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	if err := c.createInitialIndex(ctx); err != nil {
		return fmt.Errorf("failed to create initial index: %w", err)
	}

	log.Printf("OpenSearch archive initialized with index prefix: %s", c.config.IndexPrefix)
	return nil
}

// WriteAlias returns the alias bulk writes go through.
func (c *Client) WriteAlias() string {
	return c.config.IndexPrefix + "-write"
}

// Archive bulk-indexes the events. Individual item failures are collected
// into the returned error; the caller logs and moves on.
func (c *Client) Archive(ctx context.Context, events []ScoredEvent) error {
	if len(events) == 0 {
		return nil
	}

	var failures []string
	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client: c.osClient,
		Index:  c.WriteAlias(),
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			failures = append(failures, fmt.Sprintf("marshal: %v", err))
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(data),
			OnFailure: func(_ context.Context, _ opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					failures = append(failures, err.Error())
				} else {
					failures = append(failures, fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason))
				}
			},
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("add: %v", err))
		}
	}

	if err := bi.Close(ctx); err != nil {
		failures = append(failures, fmt.Sprintf("close: %v", err))
	}

	if len(failures) > 0 {
		return fmt.Errorf("archive had %d failures, first: %s", len(failures), failures[0])
	}
	return nil
}

func (c *Client) createIndexTemplate(_ context.Context) error {
	template := map[string]interface{}{
		"index_patterns": []string{c.config.IndexPrefix + "-*"},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   c.config.ShardCount,
				"number_of_replicas": c.config.ReplicaCount,
				"codec":              "best_compression",
			},
			"mappings": map[string]interface{}{
				"properties": map[string]interface{}{
					"identity":    map[string]interface{}{"type": "ip", "ignore_malformed": true},
					"status":      map[string]interface{}{"type": "keyword"},
					"user_agent":  map[string]interface{}{"type": "keyword"},
					"method":      map[string]interface{}{"type": "keyword"},
					"resource":    map[string]interface{}{"type": "keyword"},
					"score":       map[string]interface{}{"type": "integer"},
					"score_range": map[string]interface{}{"type": "keyword"},
					"alerted":     map[string]interface{}{"type": "boolean"},
					"timestamp":   map[string]interface{}{"type": "date"},
				},
			},
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := c.osClient.Indices.PutIndexTemplate(
		c.config.IndexPrefix+"-template",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

func (c *Client) createInitialIndex(ctx context.Context) error {
	indexName := fmt.Sprintf("%s-%s-000001", c.config.IndexPrefix, time.Now().Format("2006.01.02"))

	exists, err := c.osClient.Indices.Exists([]string{indexName})
	if err != nil {
		return err
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"aliases": map[string]interface{}{
			c.WriteAlias(): map[string]interface{}{"is_write_index": true},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	res, err := c.osClient.Indices.Create(
		indexName,
		c.osClient.Indices.Create.WithContext(ctx),
		c.osClient.Indices.Create.WithBody(bytes.NewReader(raw)),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusBadRequest {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

// NopArchiver drops events. Used when no archive is configured.
type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, []ScoredEvent) error { return nil }
