package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylab/orchestrator/api"
	"github.com/querylab/orchestrator/config"
	"github.com/querylab/orchestrator/domain"
	"github.com/querylab/orchestrator/planner"
	"github.com/querylab/orchestrator/policy"
	"github.com/querylab/orchestrator/runtime"
	"github.com/querylab/orchestrator/tests/helpers"
)

func newTestServer(t *testing.T) (*echo.Echo, *runtime.Registry) {
	t.Helper()
	cfg := &config.Config{
		DefaultEngine:     planner.EngineStatic,
		DefaultRunTimeout: 5 * time.Second,
		MinRunTimeout:     10 * time.Millisecond,
		MaxRunTimeout:     time.Minute,
		RetentionWindow:   time.Minute,
		ChunkDelay:        time.Millisecond,
	}
	builders := map[string]planner.Builder{planner.EngineStatic: planner.NewStaticBuilder()}
	reg := runtime.NewRegistry(cfg, helpers.NewTestSQLiteStore(t), policy.MarkerPolicy{}, builders, nil)

	e := echo.New()
	api.NewHandler(reg).RegisterRoutes(e)
	return e, reg
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func startRunAndWait(t *testing.T, e *echo.Echo, reg *runtime.Registry, question string) domain.StartRunResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"question": question})
	rec := doJSON(e, http.MethodPost, "/v1/runs", string(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp domain.StartRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	run, err := reg.GetRun(resp.RunID, "")
	require.NoError(t, err)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if run.Status().IsTerminal() {
			return resp
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("run %s never finished", resp.RunID)
	return resp
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestStartRunEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/runs", `{"question":"what changed last week"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp domain.StartRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.RunID, "run_"))
	assert.True(t, strings.HasPrefix(resp.ConversationID, "conv_"))
	assert.Contains(t, resp.EventsURL, resp.RunID)
}

func TestStartRunRejectsInvalid(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/runs", `{"question":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/v1/runs", `{"question":"q","engine":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/v1/runs", `{"question":"q","timeout_ms":999999999}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunEndpoint(t *testing.T) {
	e, reg := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/v1/runs/run_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := startRunAndWait(t, e, reg, "summarize usage")
	rec = doJSON(e, http.MethodGet, "/v1/runs/"+resp.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap domain.RunSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, resp.RunID, snap.RunID)
	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.NotEmpty(t, snap.Result.Answer)
}

func TestScopeKeyHeaderIsolation(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{"question":"q"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Scope-Key", "tenant-a")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp domain.StartRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/"+resp.RunID, nil)
	req.Header.Set("X-Scope-Key", "tenant-b")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/"+resp.RunID, nil)
	req.Header.Set("X-Scope-Key", "tenant-a")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelRunEndpoint(t *testing.T) {
	e, reg := newTestServer(t)
	resp := startRunAndWait(t, e, reg, "quick one")

	rec := doJSON(e, http.MethodPost, "/v1/runs/"+resp.RunID+"/cancel", `{"reason":"late"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var cancelResp domain.CancelRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelResp))
	assert.Equal(t, domain.CancelAlreadyFinished, cancelResp.Outcome)

	rec = doJSON(e, http.MethodPost, "/v1/runs/run_missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunEventsEndpoint(t *testing.T) {
	e, reg := newTestServer(t)
	resp := startRunAndWait(t, e, reg, "list the top accounts")

	rec := doJSON(e, http.MethodGet, "/v1/runs/"+resp.RunID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		RunID  string         `json:"run_id"`
		Events []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, resp.RunID, payload.RunID)
	require.NotEmpty(t, payload.Events)

	last := payload.Events[len(payload.Events)-1]
	assert.Equal(t, domain.EventTypeRun, last.Type)
	assert.Equal(t, domain.EventSubTypeEnd, last.Subtype)

	// after_sequence resumes mid-stream.
	cut := payload.Events[0].Sequence
	rec = doJSON(e, http.MethodGet,
		"/v1/runs/"+resp.RunID+"/events?after_sequence="+strconv.FormatInt(cut, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tail struct {
		Events []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tail))
	require.Len(t, tail.Events, len(payload.Events)-1)
	assert.Greater(t, tail.Events[0].Sequence, cut)
}

func TestStreamRunEventsReplaysFinishedRun(t *testing.T) {
	e, reg := newTestServer(t)
	resp := startRunAndWait(t, e, reg, "stream me")

	rec := doJSON(e, http.MethodGet, "/v1/runs/"+resp.RunID+"/events/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: reasoning.start")
	assert.Contains(t, body, "event: message.chunk")
	assert.Contains(t, body, "event: run.end")
	assert.Contains(t, body, `"text_delta"`)
}

func TestApprovalEndpoints(t *testing.T) {
	e, reg := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/v1/runs", `{"question":"[approval] apply the change"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp domain.StartRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// Wait for the gate to open.
	var approvalID string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		approvals, err := reg.ListApprovals(context.Background(), resp.RunID, "")
		require.NoError(t, err)
		if len(approvals) == 1 {
			approvalID = approvals[0].ApprovalID
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.NotEmpty(t, approvalID)

	rec = doJSON(e, http.MethodGet, "/v1/runs/"+resp.RunID+"/approvals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), approvalID)
	assert.Contains(t, rec.Body.String(), `"pending"`)

	rec = doJSON(e, http.MethodPost,
		"/v1/runs/"+resp.RunID+"/approvals/"+approvalID+"/decide", `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost,
		"/v1/runs/"+resp.RunID+"/approvals/ap_missing/decide", `{"decision":"approve"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost,
		"/v1/runs/"+resp.RunID+"/approvals/"+approvalID+"/decide",
		`{"decision":"approve","decided_by":"reviewer"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	run, err := reg.GetRun(resp.RunID, "")
	require.NoError(t, err)
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !run.Status().IsTerminal() {
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, domain.RunStatusCompleted, run.Status())
}

func TestConversationMessagesEndpoint(t *testing.T) {
	e, reg := newTestServer(t)
	resp := startRunAndWait(t, e, reg, "hello there")

	rec := doJSON(e, http.MethodGet, "/v1/conversations/"+resp.ConversationID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		ConversationID string           `json:"conversation_id"`
		Messages       []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Messages, 2)
	assert.Equal(t, "user", payload.Messages[0].Role)
	assert.Equal(t, "hello there", payload.Messages[0].Content)
	assert.Equal(t, "assistant", payload.Messages[1].Role)
	assert.Greater(t, payload.Messages[1].DisplayOrder, payload.Messages[0].DisplayOrder)

	rec = doJSON(e, http.MethodGet, "/v1/conversations/conv_missing/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
