package searchsink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/coreindex/sitecrawler/internal/model"
)

func noopLogger() *zap.Logger {
	return zap.NewNop()
}

// fakeTransport is an in-memory Elasticsearch double: it tracks which
// indices exist, what alias(es) point at them, and how many bulk documents
// were indexed into each, so tests can assert on the alias-swap outcome
// without a live cluster.
type fakeTransport struct {
	mu          sync.Mutex
	indices     map[string]bool
	aliasTarget map[string]string // alias -> physical index
	docsPerIdx  map[string]int
	bulkCalls   int
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bulkCalls
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		indices:     map[string]bool{},
		aliasTarget: map[string]string{},
		docsPerIdx:  map[string]int{},
	}
}

func jsonResponse(status int, body any) *http.Response {
	b, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(b)),
		Header: http.Header{
			"Content-Type":      []string{"application/json"},
			"X-Elastic-Product": []string{"Elasticsearch"},
		},
	}
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := req.URL.Path
	switch {
	case req.Method == http.MethodPut && !strings.Contains(path, "_alias"):
		idx := strings.Trim(path, "/")
		t.indices[idx] = true
		return jsonResponse(200, map[string]any{"acknowledged": true}), nil

	case req.Method == http.MethodPost && strings.HasSuffix(path, "/_bulk"):
		t.bulkCalls++
		body, _ := io.ReadAll(req.Body)
		lines := strings.Split(strings.TrimSpace(string(body)), "\n")
		for i := 0; i < len(lines); i += 2 {
			var action map[string]map[string]any
			if err := json.Unmarshal([]byte(lines[i]), &action); err == nil {
				if idxAction, ok := action["index"]; ok {
					if idx, ok := idxAction["_index"].(string); ok {
						t.docsPerIdx[idx]++
					}
				}
			}
		}
		return jsonResponse(200, map[string]any{"errors": false, "items": []any{}}), nil

	case req.Method == http.MethodPost && strings.HasSuffix(path, "/_aliases"):
		var payload struct {
			Actions []map[string]map[string]string `json:"actions"`
		}
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &payload)
		for _, action := range payload.Actions {
			if rm, ok := action["remove"]; ok {
				delete(t.aliasTarget, rm["alias"])
			}
			if add, ok := action["add"]; ok {
				t.aliasTarget[add["alias"]] = add["index"]
			}
		}
		return jsonResponse(200, map[string]any{"acknowledged": true}), nil

	case req.Method == http.MethodGet && strings.Contains(path, "_alias"):
		alias := strings.TrimPrefix(path[strings.Index(path, "_alias")+len("_alias"):], "/")
		idx, ok := t.aliasTarget[alias]
		if !ok {
			return jsonResponse(404, map[string]any{}), nil
		}
		return jsonResponse(200, map[string]any{idx: map[string]any{"aliases": map[string]any{alias: map[string]any{}}}}), nil

	case req.Method == http.MethodDelete:
		idx := strings.Trim(path, "/")
		delete(t.indices, idx)
		return jsonResponse(200, map[string]any{"acknowledged": true}), nil
	}

	return jsonResponse(404, map[string]any{}), nil
}

func newTestClient(t *testing.T, transport http.RoundTripper) *elasticsearch.Client {
	t.Helper()
	client, err := elasticsearch.NewClient(elasticsearch.Config{Transport: transport})
	if err != nil {
		t.Fatalf("elasticsearch.NewClient error = %v", err)
	}
	return client
}

// newTestSink builds a Sink the way New does, minus the network call to
// create the physical index, and starts its drain goroutine so IndexPage's
// non-blocking contract behaves as it would in production.
func newTestSink(client *elasticsearch.Client, alias, physicalIndex string, batchSize int) *Sink {
	s := &Sink{
		client:        client,
		alias:         alias,
		physicalIndex: physicalIndex,
		batchSize:     batchSize,
		logger:        noopLogger(),
		done:          make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func TestNewRejectsMissingAlias(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("expected error for missing alias")
	}
}

func TestIndexPageAndCloseSwapsFreshAlias(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	client := newTestClient(t, ft)
	sink := newTestSink(client, "webpages", "webpages_test_0001", 10)

	if err := sink.IndexPage(context.Background(), model.PageData{CanonicalURL: model.MustParseURL("https://example.com/a")}); err != nil {
		t.Fatalf("IndexPage error = %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	if ft.aliasTarget["webpages"] != "webpages_test_0001" {
		t.Fatalf("expected alias to point at new index, got %+v", ft.aliasTarget)
	}
	if ft.docsPerIdx["webpages_test_0001"] != 1 {
		t.Fatalf("expected 1 document indexed, got %d", ft.docsPerIdx["webpages_test_0001"])
	}
}

func TestCloseSwapsAliasAndDeletesStaleIndex(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	ft.indices["webpages_old"] = true
	ft.aliasTarget["webpages"] = "webpages_old"

	client := newTestClient(t, ft)
	sink := newTestSink(client, "webpages", "webpages_new", 10)

	if err := sink.IndexPage(context.Background(), model.PageData{CanonicalURL: model.MustParseURL("https://example.com/a")}); err != nil {
		t.Fatalf("IndexPage error = %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	if ft.aliasTarget["webpages"] != "webpages_new" {
		t.Fatalf("expected alias to swap to new index, got %+v", ft.aliasTarget)
	}
	if ft.indices["webpages_old"] {
		t.Fatalf("expected stale index to be deleted")
	}
}

func TestIndexPageFlushesAtBatchSize(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	client := newTestClient(t, ft)
	sink := newTestSink(client, "webpages", "webpages_batch", 2)

	for i := 0; i < 3; i++ {
		if err := sink.IndexPage(context.Background(), model.PageData{CanonicalURL: model.MustParseURL("https://example.com/a")}); err != nil {
			t.Fatalf("IndexPage error = %v", err)
		}
	}

	// IndexPage no longer flushes synchronously: the drain goroutine picks
	// up the full batch on its own schedule, so wait for it rather than
	// asserting immediately.
	waitForBulkCalls(t, ft, 1)

	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if ft.callCount() != 2 {
		t.Fatalf("expected Close to flush the remaining record, got %d bulk calls", ft.callCount())
	}
}

// waitForBulkCalls polls the fake transport's bulk call count until it
// reaches want or the deadline expires, so tests observe the drain
// goroutine's asynchronous flush without racing on it.
func waitForBulkCalls(t *testing.T, ft *fakeTransport, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ft.callCount() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d bulk calls, got %d", want, ft.callCount())
}

// slowBulkTransport wraps a fakeTransport and stalls every /_bulk call by
// releaseBulk, simulating a slow search backend so tests can assert IndexPage
// itself never waits on it.
type slowBulkTransport struct {
	*fakeTransport
	releaseBulk chan struct{}
}

func (t *slowBulkTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/_bulk") {
		<-t.releaseBulk
	}
	return t.fakeTransport.RoundTrip(req)
}

func TestIndexPageDoesNotBlockOnSlowBackend(t *testing.T) {
	t.Parallel()

	st := &slowBulkTransport{fakeTransport: newFakeTransport(), releaseBulk: make(chan struct{})}
	client := newTestClient(t, st)
	sink := newTestSink(client, "webpages", "webpages_slow", 1)

	done := make(chan error, 1)
	go func() {
		done <- sink.IndexPage(context.Background(), model.PageData{CanonicalURL: model.MustParseURL("https://example.com/a")})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("IndexPage error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("IndexPage blocked on a stalled backend instead of enqueueing and returning")
	}

	close(st.releaseBulk)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close error = %v", err)
	}
}

func TestIndexPageAfterCloseErrors(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	client := newTestClient(t, ft)
	sink := newTestSink(client, "webpages", "webpages_x", 10)

	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := sink.IndexPage(context.Background(), model.PageData{CanonicalURL: model.MustParseURL("https://example.com/a")}); err == nil {
		t.Fatalf("expected error indexing after close")
	}
}
