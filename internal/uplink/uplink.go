// Package uplink forwards unique entries to the downstream collector.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// ErrChunkRejected marks a chunk the collector did not accept.
var ErrChunkRejected = errors.New("collector rejected chunk")

// Config controls batching and the collector endpoint.
type Config struct {
	CollectorURL string
	Path         string
	Source       string
	BatchSize    int
	Timeout      time.Duration
}

// Client implements crawler.Uplink over HTTP.
type Client struct {
	cfg      Config
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

type server struct {
	ID      string `json:"id"`
	Players int    `json:"players"`
}

type payload struct {
	Servers []server `json:"servers"`
	Source  string   `json:"source"`
}

type ack struct {
	Added *int `json:"added"`
}

// New builds a Client. A nil httpClient gets a default one; per-chunk
// deadlines come from cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.CollectorURL) == "" {
		return nil, errors.New("collector url is required")
	}
	if cfg.Path == "" {
		cfg.Path = "/add-pool"
	}
	if cfg.Source == "" {
		cfg.Source = "mini-api"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := strings.TrimRight(cfg.CollectorURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/")
	return &Client{cfg: cfg, endpoint: endpoint, http: httpClient, logger: logger}, nil
}

// Send posts entries in chunks of BatchSize and returns the summed added
// count plus the number of chunks that failed. Failed chunks are dropped.
func (c *Client) Send(ctx context.Context, entries []crawler.Entry) (int, int) {
	added, failures := 0, 0
	for i, chunk := range Chunk(entries, c.cfg.BatchSize) {
		n, err := c.post(ctx, chunk)
		if err != nil {
			failures++
			c.logger.Warn("uplink chunk failed",
				zap.Int("chunk", i),
				zap.Int("size", len(chunk)),
				zap.Error(err),
			)
			continue
		}
		added += n
	}
	return added, failures
}

func (c *Client) post(ctx context.Context, chunk []crawler.Entry) (int, error) {
	body := payload{Servers: make([]server, 0, len(chunk)), Source: c.cfg.Source}
	for _, e := range chunk {
		body.Servers = append(body.Servers, server{ID: e.ID, Players: e.Playing})
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode chunk: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build collector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post chunk: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read collector response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: status %d", ErrChunkRejected, resp.StatusCode)
	}
	var a ack
	if err := json.Unmarshal(raw, &a); err != nil {
		return 0, fmt.Errorf("%w: decode response: %w", ErrChunkRejected, err)
	}
	if a.Added == nil {
		return 0, fmt.Errorf("%w: response missing added", ErrChunkRejected)
	}
	return *a.Added, nil
}

// Chunk splits entries into consecutive slices of at most size elements.
func Chunk(entries []crawler.Entry, size int) [][]crawler.Entry {
	if size <= 0 || len(entries) == 0 {
		return nil
	}
	chunks := make([][]crawler.Entry, 0, (len(entries)+size-1)/size)
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		chunks = append(chunks, entries[start:end])
	}
	return chunks
}
