package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cfgpkg "github.com/rzbill/tasq/internal/config"
	"github.com/rzbill/tasq/internal/runtime"
	"github.com/rzbill/tasq/internal/taskqueue"
	logpkg "github.com/rzbill/tasq/pkg/log"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	rt, err := runtime.Open(runtime.Options{Config: cfg})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return New(rt, logger)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/v1/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestEnqueuePollAckFlow(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/tasks",
		`{"taskId":"t1","taskType":"encode","domain":"d1","payload":{"file":"a.mp4"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue status: %d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/v1/tasks/poll/encode?workerid=w1&domain=d1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("poll status: %d body=%s", w.Code, w.Body.String())
	}
	var rec taskqueue.TaskRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if rec.TaskID != "t1" || rec.State != taskqueue.StateInProgress {
		t.Fatalf("polled record = %+v", rec)
	}

	// Empty queue polls return 204.
	w = doJSON(t, s, http.MethodGet, "/v1/tasks/poll/encode?workerid=w1&domain=d1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("empty poll status: %d", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/v1/tasks/t1/ack?workerid=w1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ack status: %d", w.Code)
	}
	var ack map[string]bool
	_ = json.Unmarshal(w.Body.Bytes(), &ack)
	if !ack["acked"] {
		t.Fatalf("ack body = %s", w.Body.String())
	}

	// Second ack is 200 with acked=false.
	w = doJSON(t, s, http.MethodPost, "/v1/tasks/t1/ack?workerid=w1", "")
	_ = json.Unmarshal(w.Body.Bytes(), &ack)
	if w.Code != http.StatusOK || ack["acked"] {
		t.Fatalf("second ack: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestPollValidationStatus(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/v1/tasks/poll/encode?workerid=&domain=d1", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestUpdateConflictStatus(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/v1/tasks", `{"taskId":"t1","taskType":"encode","domain":"d1"}`)
	w := doJSON(t, s, http.MethodPost, "/v1/tasks/update", `{"taskId":"t1","state":"COMPLETED"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status: %d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(t, s, http.MethodPost, "/v1/tasks/update", `{"taskId":"t1","state":"FAILED"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("conflicting update status: %d", w.Code)
	}
}

func TestTaskLookupRoutes(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/v1/tasks",
		`{"taskId":"t1","taskType":"encode","domain":"d1","workflowId":"wf1","taskRefName":"step1"}`)

	w := doJSON(t, s, http.MethodGet, "/v1/tasks/t1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status: %d", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, "/v1/tasks/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing get status: %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/tasks/in_progress/wf1/step1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("pending status: %d body=%s", w.Code, w.Body.String())
	}

	doJSON(t, s, http.MethodPost, "/v1/tasks/t1/log", `{"message":"working"}`)
	w = doJSON(t, s, http.MethodGet, "/v1/tasks/t1/log", "")
	if w.Code != http.StatusOK {
		t.Fatalf("logs status: %d", w.Code)
	}
	var logs []taskqueue.LogEntry
	_ = json.Unmarshal(w.Body.Bytes(), &logs)
	if len(logs) != 1 || logs[0].Message != "working" {
		t.Fatalf("logs = %+v", logs)
	}
}

func TestPendingForTypeRoute(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/v1/tasks", `{"taskId":"a1","taskType":"encode","domain":"d1"}`)
	doJSON(t, s, http.MethodPost, "/v1/tasks", `{"taskId":"a2","taskType":"encode","domain":"d1"}`)
	doJSON(t, s, http.MethodPost, "/v1/tasks/update", `{"taskId":"a1","state":"COMPLETED"}`)

	w := doJSON(t, s, http.MethodGet, "/v1/tasks/pending/encode", "")
	if w.Code != http.StatusOK {
		t.Fatalf("pending status: %d body=%s", w.Code, w.Body.String())
	}
	var recs []taskqueue.TaskRecord
	_ = json.Unmarshal(w.Body.Bytes(), &recs)
	if len(recs) != 1 || recs[0].TaskID != "a2" {
		t.Fatalf("pending = %+v", recs)
	}

	w = doJSON(t, s, http.MethodGet, "/v1/tasks/pending/encode?startKey=a2&count=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("page status: %d", w.Code)
	}
	recs = nil
	_ = json.Unmarshal(w.Body.Bytes(), &recs)
	if len(recs) != 0 {
		t.Fatalf("page past end = %+v", recs)
	}
}

func TestQueueRoutes(t *testing.T) {
	s := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/v1/tasks", `{"taskId":"t1","taskType":"encode","domain":"d1"}`)
	doJSON(t, s, http.MethodPost, "/v1/tasks", `{"taskId":"t2","taskType":"encode","domain":"d2"}`)

	w := doJSON(t, s, http.MethodGet, "/v1/tasks/queue/size?taskType=encode&taskType=unknown", "")
	if w.Code != http.StatusOK {
		t.Fatalf("size status: %d", w.Code)
	}
	var sizes map[string]int
	_ = json.Unmarshal(w.Body.Bytes(), &sizes)
	if sizes["encode"] != 2 || sizes["unknown"] != 0 {
		t.Fatalf("sizes = %v", sizes)
	}

	w = doJSON(t, s, http.MethodDelete, "/v1/tasks/queue/encode/t1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove status: %d", w.Code)
	}
	// Idempotent.
	w = doJSON(t, s, http.MethodDelete, "/v1/tasks/queue/encode/t1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("second remove status: %d", w.Code)
	}

	doJSON(t, s, http.MethodGet, "/v1/tasks/poll/encode?workerid=w1&domain=d2", "")
	w = doJSON(t, s, http.MethodGet, "/v1/tasks/queue/polldata?taskType=encode", "")
	if w.Code != http.StatusOK {
		t.Fatalf("polldata status: %d", w.Code)
	}
	var pds []taskqueue.PollData
	_ = json.Unmarshal(w.Body.Bytes(), &pds)
	if len(pds) != 1 || pds[0].WorkerID != "w1" {
		t.Fatalf("polldata = %+v", pds)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tasq_") {
		t.Fatal("expected tasq metrics in output")
	}
}
