// Package searchsink indexes crawled pages into a search backend behind an
// alias that only ever points at a fully-populated physical index: a fresh
// physical index is created per run, records are bulk-indexed into it as
// they arrive, and the alias is swapped onto it atomically only once the
// run finishes — readers never observe a partially indexed generation.
package searchsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coreindex/sitecrawler/internal/model"
)

// defaultBatchSize caps each bulk request at 10 records. The drain goroutine
// does not wait for a full batch: it sends whatever is queued, up to this
// many records, as soon as it wakes.
const defaultBatchSize = 10

// Config configures a Sink.
type Config struct {
	// Addresses lists the backend's HTTP endpoints, forwarded verbatim to
	// the elasticsearch client.
	Addresses []string
	// Alias is the stable name readers query; it always points at exactly
	// one physical index once a run has completed.
	Alias string
	// BatchSize overrides defaultBatchSize when positive.
	BatchSize int
}

// Sink batches PageData records and bulk-indexes them into a fresh physical
// index, swapping Config.Alias onto it on Close.
//
// IndexPage never performs backend I/O itself: it appends to an unbounded
// in-memory queue and returns, so a crawl worker is never held up waiting on
// the search backend. A single background goroutine started by New drains
// that queue and issues the bulk requests, mirroring the buffered-channel,
// single-consumer shape of the teacher's progress.Hub.
type Sink struct {
	client        *elasticsearch.Client
	alias         string
	physicalIndex string
	batchSize     int
	logger        *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []model.PageData
	closed bool
	done   chan struct{}
}

// New creates the physical index for this run and returns a Sink that
// indexes into it. The alias is not touched until Close succeeds.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.Alias == "" {
		return nil, fmt.Errorf("searchsink: alias is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.Addresses})
	if err != nil {
		return nil, fmt.Errorf("searchsink: new client: %w", err)
	}

	physicalIndex := fmt.Sprintf("%s_%s_%s", cfg.Alias, time.Now().UTC().Format("20060102t150405"), uuid.NewString()[:8])
	createReq := esapi.IndicesCreateRequest{Index: physicalIndex}
	res, err := createReq.Do(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("searchsink: create index %s: %w", physicalIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("searchsink: create index %s: %s", physicalIndex, res.String())
	}

	s := &Sink{
		client:        client,
		alias:         cfg.Alias,
		physicalIndex: physicalIndex,
		batchSize:     batchSize,
		logger:        logger,
		done:          make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s, nil
}

// IndexPage enqueues page for the background drain goroutine and returns
// without touching the network. The ctx argument is accepted to satisfy the
// coordinator.SearchSink contract but plays no part in the eventual bulk
// request, since that request runs on the drain goroutine's own lifetime,
// not the calling worker's.
func (s *Sink) IndexPage(_ context.Context, page model.PageData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("searchsink: index page after close")
	}
	s.queue = append(s.queue, page)
	s.cond.Signal()
	return nil
}

// run drains the queue in FIFO batches of up to batchSize until Close has
// been called and the queue is empty, then exits. It holds s.mu only long
// enough to pull a batch off the queue; the bulk request itself runs
// unlocked so IndexPage is never blocked behind backend I/O.
func (s *Sink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		n := s.batchSize
		if n > len(s.queue) {
			n = len(s.queue)
		}
		batch := append([]model.PageData(nil), s.queue[:n]...)
		s.queue = s.queue[n:]
		s.mu.Unlock()

		if err := s.flush(context.Background(), batch); err != nil {
			s.logger.Warn("search sink flush failed", zap.Error(err), zap.Int("count", len(batch)))
		}
	}
}

// flush bulk-indexes batch into the physical index. It touches no Sink
// field beyond the immutable client/physicalIndex/logger, so it needs no
// lock.
func (s *Sink) flush(ctx context.Context, batch []model.PageData) error {
	if len(batch) == 0 {
		return nil
	}
	var body bytes.Buffer
	for _, page := range batch {
		action := map[string]any{"index": map[string]any{"_index": s.physicalIndex}}
		if err := json.NewEncoder(&body).Encode(action); err != nil {
			return fmt.Errorf("searchsink: encode bulk action: %w", err)
		}
		if err := json.NewEncoder(&body).Encode(page); err != nil {
			return fmt.Errorf("searchsink: encode bulk document: %w", err)
		}
	}

	req := esapi.BulkRequest{Body: bytes.NewReader(body.Bytes())}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("searchsink: bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("searchsink: bulk request failed: %s", res.String())
	}

	s.logger.Debug("flushed page batch", zap.Int("count", len(batch)), zap.String("index", s.physicalIndex))
	return nil
}

// Close stops accepting new pages, waits for the drain goroutine to flush
// everything still queued, then atomically swaps Config.Alias onto this
// run's physical index and deletes every other physical index the alias
// previously pointed at. Once Close returns successfully, readers querying
// the alias see either the prior fully-populated generation or this one,
// never a partial one.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("searchsink: close wait for drain: %w", ctx.Err())
	}

	staleIndices, err := s.aliasTargets(ctx)
	if err != nil {
		return fmt.Errorf("searchsink: resolve alias targets: %w", err)
	}

	actions := make([]map[string]any, 0, len(staleIndices)+1)
	for _, idx := range staleIndices {
		actions = append(actions, map[string]any{"remove": map[string]any{"index": idx, "alias": s.alias}})
	}
	actions = append(actions, map[string]any{"add": map[string]any{"index": s.physicalIndex, "alias": s.alias}})

	payload, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("searchsink: encode alias swap: %w", err)
	}
	swapReq := esapi.IndicesUpdateAliasesRequest{Body: bytes.NewReader(payload)}
	res, err := swapReq.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("searchsink: alias swap request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("searchsink: alias swap failed: %s", res.String())
	}

	for _, idx := range staleIndices {
		delReq := esapi.IndicesDeleteRequest{Index: []string{idx}}
		delRes, err := delReq.Do(ctx, s.client)
		if err != nil {
			s.logger.Warn("failed to delete stale index", zap.String("index", idx), zap.Error(err))
			continue
		}
		delRes.Body.Close()
	}
	return nil
}

// aliasTargets returns the physical indices currently behind s.alias, or an
// empty slice if the alias does not exist yet (first run).
func (s *Sink) aliasTargets(ctx context.Context) ([]string, error) {
	req := esapi.IndicesGetAliasRequest{Name: []string{s.alias}}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get alias %s: %s", s.alias, res.String())
	}

	var parsed map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode alias response: %w", err)
	}
	indices := make([]string, 0, len(parsed))
	for idx := range parsed {
		if strings.TrimSpace(idx) == "" {
			continue
		}
		indices = append(indices, idx)
	}
	return indices, nil
}
