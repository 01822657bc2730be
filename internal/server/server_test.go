package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/contentstore"
	"github.com/scrypster/recall/internal/pipeline"
	"github.com/scrypster/recall/internal/tasks"
	"github.com/scrypster/recall/pkg/types"
)

type fakeIngestor struct {
	lastInput pipeline.Input
	result    *pipeline.Result
	err       error
}

func (f *fakeIngestor) Process(ctx context.Context, in pipeline.Input) (*pipeline.Result, error) {
	f.lastInput = in
	return f.result, f.err
}

type fakeQueues struct {
	taskTypes []string
	depths    map[string]int64
}

func (f *fakeQueues) Enqueue(ctx context.Context, taskType string, payload any) (string, error) {
	f.taskTypes = append(f.taskTypes, taskType)
	return "job-1", nil
}

func (f *fakeQueues) Depths(ctx context.Context) (map[string]int64, error) {
	return f.depths, nil
}

func newTestServer(ingest *fakeIngestor, queues *fakeQueues) (*Server, *httptest.Server) {
	cfg := &config.Config{}
	s := New(cfg, ingest, queues, nil)
	ts := httptest.NewServer(s.Handler())
	return s, ts
}

func postJSON(t *testing.T, url, body string) (*http.Response, captureResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out captureResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestCaptureTextQueuesProcessing(t *testing.T) {
	ingest := &fakeIngestor{result: &pipeline.Result{
		Record: &types.ContentRecord{ContentUUID: "u1"},
		Saved:  &contentstore.SaveResult{UUID: "u1"},
	}}
	queues := &fakeQueues{}
	_, ts := newTestServer(ingest, queues)
	defer ts.Close()

	resp, out := postJSON(t, ts.URL+"/capture/text", `{"text":"attention is all you need","title":"Idea"}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "captured", out.Status)
	assert.Equal(t, "u1", out.ID)
	assert.Equal(t, pipeline.InputTextIdea, ingest.lastInput.Type)
	assert.Equal(t, "Idea", ingest.lastInput.Title)
	assert.Equal(t, []string{tasks.TaskProcessContent}, queues.taskTypes)
}

func TestCaptureVoiceUsesVoiceTask(t *testing.T) {
	ingest := &fakeIngestor{result: &pipeline.Result{
		Record: &types.ContentRecord{ContentUUID: "u2"},
		Saved:  &contentstore.SaveResult{UUID: "u2"},
	}}
	queues := &fakeQueues{}
	_, ts := newTestServer(ingest, queues)
	defer ts.Close()

	resp, _ := postJSON(t, ts.URL+"/capture/voice", `{"path":"/tmp/memo.m4a"}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, pipeline.InputVoiceMemo, ingest.lastInput.Type)
	assert.Equal(t, []string{tasks.TaskProcessVoice}, queues.taskTypes)
}

func TestCaptureDedupedSkipsEnqueue(t *testing.T) {
	ingest := &fakeIngestor{result: &pipeline.Result{
		Record: &types.ContentRecord{ContentUUID: "existing"},
		Saved:  &contentstore.SaveResult{UUID: "existing", Deduped: true, ExistingUUID: "existing"},
	}}
	queues := &fakeQueues{}
	_, ts := newTestServer(ingest, queues)
	defer ts.Close()

	resp, out := postJSON(t, ts.URL+"/capture/url", `{"url":"https://example.com/post"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deduped", out.Status)
	assert.Equal(t, "existing", out.ExistingID)
	assert.Empty(t, queues.taskTypes)
}

func TestCaptureRejectsInvalidInput(t *testing.T) {
	ingest := &fakeIngestor{err: pipeline.ErrInvalidInput}
	queues := &fakeQueues{}
	_, ts := newTestServer(ingest, queues)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/capture/pdf", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, queues.taskTypes)
}

func TestCaptureRejectsMalformedBody(t *testing.T) {
	ingest := &fakeIngestor{}
	queues := &fakeQueues{}
	_, ts := newTestServer(ingest, queues)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/capture/text", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCaptureRejectsGet(t *testing.T) {
	ingest := &fakeIngestor{}
	queues := &fakeQueues{}
	_, ts := newTestServer(ingest, queues)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/capture/text")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(&fakeIngestor{}, &fakeQueues{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "healthy", out["status"])
}

func TestStatusReportsQueueDepths(t *testing.T) {
	queues := &fakeQueues{depths: map[string]int64{
		tasks.QueueHigh:    1,
		tasks.QueueDefault: 4,
		tasks.QueueLow:     0,
	}}
	_, ts := newTestServer(&fakeIngestor{}, queues)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Status string           `json:"status"`
		Queues map[string]int64 `json:"queues"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, int64(4), out.Queues[tasks.QueueDefault])
}

type fakeDeduper struct {
	merged int
}

func (f *fakeDeduper) DedupConcepts(ctx context.Context) (int, error) {
	return f.merged, nil
}

func TestDedupConceptsEndpoint(t *testing.T) {
	cfg := &config.Config{}
	s := New(cfg, &fakeIngestor{}, &fakeQueues{}, nil)
	s.Deduper = &fakeDeduper{merged: 3}
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/maintenance/dedup-concepts", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Merged int `json:"merged"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 3, out.Merged)
}

func TestDedupConceptsWithoutGraph(t *testing.T) {
	_, ts := newTestServer(&fakeIngestor{}, &fakeQueues{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/maintenance/dedup-concepts", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebsocketReceivesRunEvents(t *testing.T) {
	s, ts := newTestServer(&fakeIngestor{}, &fakeQueues{})
	defer ts.Close()
	go s.hub.Run()
	defer s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the hub's register loop a beat before broadcasting.
	require.Eventually(t, func() bool {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		return len(s.hub.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.hub.RunFinished("u9", "Attention Is All You Need", &types.ProcessingRun{
		Status:  types.RunCompleted,
		CostUSD: 0.12,
	})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event RunEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "run_finished", event.Type)
	assert.Equal(t, "u9", event.ContentUUID)
	assert.Equal(t, string(types.RunCompleted), event.Status)
	assert.InDelta(t, 0.12, event.CostUSD, 1e-9)
}
