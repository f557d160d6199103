package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/receipt-pipeline/internal/application/pipeline"
	"github.com/garyjia/receipt-pipeline/internal/application/port"
	"github.com/garyjia/receipt-pipeline/internal/application/service"
	"github.com/garyjia/receipt-pipeline/internal/domain/entity"
	"github.com/garyjia/receipt-pipeline/internal/domain/workflow"
)

type fakeReceipts struct {
	result *service.RunResult
	err    error

	gotSource string
	gotText   string
	gotSeed   uint64
	runs      []*entity.PipelineRun
	detail    *service.RunDetail
	limit     int
}

func (f *fakeReceipts) ProcessText(_ context.Context, source, rawText string, seed uint64) (*service.RunResult, error) {
	f.gotSource, f.gotText, f.gotSeed = source, rawText, seed
	return f.result, f.err
}

func (f *fakeReceipts) ResumeRun(_ context.Context, id int64) (*service.RunResult, error) {
	if f.detail == nil || f.detail.Run.ID != id {
		return nil, fmt.Errorf("%w: %d", port.ErrRunNotFound, id)
	}
	return f.result, f.err
}

func (f *fakeReceipts) GetRun(_ context.Context, id int64) (*service.RunDetail, error) {
	if f.detail == nil || f.detail.Run.ID != id {
		return nil, fmt.Errorf("%w: %d", port.ErrRunNotFound, id)
	}
	return f.detail, nil
}

func (f *fakeReceipts) ListRuns(_ context.Context, limit, _ int) ([]*entity.PipelineRun, error) {
	f.limit = limit
	return f.runs, nil
}

func finalResult() *service.RunResult {
	topic := "Projektbesprechung Atlas"
	history := pipeline.NewHistory()
	history.Append(entity.BillingRecord{LocationName: "Trattoria Roma", TotalWithoutTip: 45, Stage: workflow.StateExtracted})
	history.Append(entity.BillingRecord{
		Date:            "2022-03-14",
		LocationName:    "Trattoria Roma",
		TotalWithoutTip: 45,
		TotalWithTip:    49.5,
		TipAmount:       4.5,
		Topic:           &topic,
		Names:           []string{"Alice", "Bob"},
		Stage:           workflow.StateFinal,
	})
	return &service.RunResult{
		Run:     &entity.PipelineRun{ID: 7, Source: "api", Status: entity.RunStatusCompleted, Seed: 3},
		History: history,
	}
}

func newTestServer(receipts ReceiptProcessor) *Server {
	cfg := DefaultServerConfig()
	cfg.FormCity = "Essen"
	return NewServer(cfg, receipts, NewZapLogger(zap.NewNop()))
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	w := do(newTestServer(&fakeReceipts{}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
}

func TestProcessReceipt_Success(t *testing.T) {
	receipts := &fakeReceipts{result: finalResult()}
	s := newTestServer(receipts)

	w := do(s, http.MethodPost, "/api/receipts", `{"text":"Trattoria Roma\nSumme 45,00","source":"scan/1","seed":"42"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "scan/1", receipts.gotSource)
	assert.Equal(t, uint64(42), receipts.gotSeed)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	final := data["final"].(map[string]interface{})
	assert.Equal(t, 49.5, final["total_with_tip"])
	assert.Len(t, data["history"], 2)
	assert.Contains(t, data["form"], "Ort, Datum: Essen, 2022-03-14")
}

func TestProcessReceipt_DefaultsSourceAndSeed(t *testing.T) {
	receipts := &fakeReceipts{result: finalResult()}

	w := do(newTestServer(receipts), http.MethodPost, "/api/receipts", `{"text":"Summe 12,00","seed":7}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DefaultSource, receipts.gotSource)
	assert.Equal(t, uint64(7), receipts.gotSeed)

	w = do(newTestServer(receipts), http.MethodPost, "/api/receipts", `{"text":"Summe 12,00"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, receipts.gotSeed)
}

func TestProcessReceipt_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"text":`},
		{"missing text", `{"source":"api"}`},
		{"blank text", `{"text":"   "}`},
		{"negative seed", `{"text":"x","seed":-1}`},
		{"object seed", `{"text":"x","seed":{"a":1}}`},
		{"bad source", `{"text":"x","source":"../../etc"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipts := &fakeReceipts{result: finalResult()}
			w := do(newTestServer(receipts), http.MethodPost, "/api/receipts", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, receipts.gotText)
		})
	}
}

func TestProcessReceipt_ExtractionFailureIs422(t *testing.T) {
	history := pipeline.NewHistory()
	err := &pipeline.StepError{Index: 0, Step: pipeline.ExtractionStepName, Err: &entity.ExtractionError{Reason: "not a receipt"}}
	receipts := &fakeReceipts{
		result: &service.RunResult{Run: &entity.PipelineRun{ID: 3, Status: entity.RunStatusFailed}, History: history, Err: err},
		err:    err,
	}

	w := do(newTestServer(receipts), http.MethodPost, "/api/receipts", `{"text":"hello"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "not a receipt")
	data := body["data"].(map[string]interface{})
	assert.Empty(t, data["history"])
	assert.Nil(t, data["final"])
}

func TestProcessReceipt_ServerFailures(t *testing.T) {
	partial := finalResult()
	stepErr := &pipeline.StepError{Index: 2, Step: "topic", Err: errors.New("attendee registry has no projects")}
	partial.Err = stepErr

	w := do(newTestServer(&fakeReceipts{result: partial, err: stepErr}), http.MethodPost, "/api/receipts", `{"text":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, decode(t, w)["data"].(map[string]interface{})["history"], 2)

	w = do(newTestServer(&fakeReceipts{err: errors.New("failed to load attendees")}), http.MethodPost, "/api/receipts", `{"text":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListRuns(t *testing.T) {
	receipts := &fakeReceipts{runs: []*entity.PipelineRun{{ID: 2}, {ID: 1}}}
	s := newTestServer(receipts)

	w := do(s, http.MethodGet, "/api/runs?limit=500", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, receipts.limit)
	assert.Len(t, decode(t, w)["data"], 2)

	w = do(s, http.MethodGet, "/api/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRun(t *testing.T) {
	receipts := &fakeReceipts{detail: &service.RunDetail{
		Run:       &entity.PipelineRun{ID: 5, Status: entity.RunStatusCompleted},
		Snapshots: []*entity.RunSnapshot{{RunID: 5, Seq: 0, Step: "extraction", Stage: workflow.StateExtracted}},
	}}
	s := newTestServer(receipts)

	w := do(s, http.MethodGet, "/api/runs/5", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Len(t, data["snapshots"], 1)

	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/runs/6", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/runs/abc", "").Code)
}

func TestResumeRun(t *testing.T) {
	receipts := &fakeReceipts{
		result: finalResult(),
		detail: &service.RunDetail{Run: &entity.PipelineRun{ID: 7, Status: entity.RunStatusFailed}},
	}
	s := newTestServer(receipts)

	assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/runs/7/resume", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/api/runs/8/resume", "").Code)

	receipts.result, receipts.err = nil, fmt.Errorf("%w: 7", service.ErrRunCompleted)
	assert.Equal(t, http.StatusConflict, do(s, http.MethodPost, "/api/runs/7/resume", "").Code)
}
