package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rzbill/tasq/internal/services/tasks"
	"github.com/rzbill/tasq/internal/taskqueue"
)

// HTTPTransport implements TaskAPI against the broker's REST surface.
type HTTPTransport struct {
	baseURL func() string
	client  *http.Client
}

// NewHTTPTransport constructs an HTTPTransport. baseURL is resolved per call
// so the endpoint can come from flags or environment at invocation time.
func NewHTTPTransport(baseURL func() string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	u := strings.TrimRight(t.baseURL(), "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return resp.StatusCode, fmt.Errorf("%s", e.Error)
		}
		return resp.StatusCode, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// Enqueue submits a new task.
func (t *HTTPTransport) Enqueue(ctx context.Context, req tasks.EnqueueRequest) (*taskqueue.TaskRecord, error) {
	var rec taskqueue.TaskRecord
	if _, err := t.do(ctx, http.MethodPost, "/v1/tasks", nil, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Poll leases the oldest queued task, or returns nil when the queue is empty.
func (t *HTTPTransport) Poll(ctx context.Context, taskType, workerID, domain string) (*taskqueue.TaskRecord, error) {
	q := url.Values{}
	q.Set("workerid", workerID)
	if domain != "" {
		q.Set("domain", domain)
	}
	var rec taskqueue.TaskRecord
	status, err := t.do(ctx, http.MethodGet, "/v1/tasks/poll/"+url.PathEscape(taskType), q, nil, &rec)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &rec, nil
}

// Ack releases the lease held by workerID.
func (t *HTTPTransport) Ack(ctx context.Context, taskID, workerID string) (bool, error) {
	q := url.Values{}
	q.Set("workerid", workerID)
	var out struct {
		Acked bool `json:"acked"`
	}
	if _, err := t.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskID)+"/ack", q, nil, &out); err != nil {
		return false, err
	}
	return out.Acked, nil
}

// UpdateTask submits a terminal result for a task.
func (t *HTTPTransport) UpdateTask(ctx context.Context, result taskqueue.TaskResult) (*taskqueue.TaskRecord, error) {
	var rec taskqueue.TaskRecord
	if _, err := t.do(ctx, http.MethodPost, "/v1/tasks/update", nil, result, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AddLog appends an execution log line to a task.
func (t *HTTPTransport) AddLog(ctx context.Context, taskID, message string) error {
	body := map[string]string{"message": message}
	_, err := t.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskID)+"/log", nil, body, nil)
	return err
}

// GetTaskLogs returns a task's execution log lines.
func (t *HTTPTransport) GetTaskLogs(ctx context.Context, taskID string) ([]taskqueue.LogEntry, error) {
	var out []taskqueue.LogEntry
	if _, err := t.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID)+"/log", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTaskDetails fetches a task record by id.
func (t *HTTPTransport) GetTaskDetails(ctx context.Context, taskID string) (*taskqueue.TaskRecord, error) {
	var rec taskqueue.TaskRecord
	if _, err := t.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetPendingTaskForWorkflow fetches the non-terminal task for a workflow reference.
func (t *HTTPTransport) GetPendingTaskForWorkflow(ctx context.Context, workflowID, taskRefName string) (*taskqueue.TaskRecord, error) {
	path := "/v1/tasks/in_progress/" + url.PathEscape(workflowID) + "/" + url.PathEscape(taskRefName)
	var rec taskqueue.TaskRecord
	if _, err := t.do(ctx, http.MethodGet, path, nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPendingForType pages through non-terminal tasks of a type.
func (t *HTTPTransport) ListPendingForType(ctx context.Context, taskType, startKey string, count int) ([]taskqueue.TaskRecord, error) {
	q := url.Values{}
	if startKey != "" {
		q.Set("startKey", startKey)
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	var out []taskqueue.TaskRecord
	if _, err := t.do(ctx, http.MethodGet, "/v1/tasks/pending/"+url.PathEscape(taskType), q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveTaskFromQueue withdraws a task from its queue and deletes its record.
func (t *HTTPTransport) RemoveTaskFromQueue(ctx context.Context, taskType, taskID string) error {
	path := "/v1/tasks/queue/" + url.PathEscape(taskType) + "/" + url.PathEscape(taskID)
	_, err := t.do(ctx, http.MethodDelete, path, nil, nil, nil)
	return err
}

// GetQueueSizes returns pending depth per task type.
func (t *HTTPTransport) GetQueueSizes(ctx context.Context, taskTypes []string) (map[string]int, error) {
	q := url.Values{}
	for _, tt := range taskTypes {
		q.Add("taskType", tt)
	}
	out := map[string]int{}
	if _, err := t.do(ctx, http.MethodGet, "/v1/tasks/queue/size", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPollData returns last-poll telemetry for a task type.
func (t *HTTPTransport) GetPollData(ctx context.Context, taskType string) ([]taskqueue.PollData, error) {
	q := url.Values{}
	q.Set("taskType", taskType)
	var out []taskqueue.PollData
	if _, err := t.do(ctx, http.MethodGet, "/v1/tasks/queue/polldata", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
