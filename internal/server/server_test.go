package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/internal/checker"
	"github.com/mailward/email-verifier/internal/storage"
	"github.com/mailward/email-verifier/pkg/types"
)

// newTestServer builds a standalone-mode server around in-memory storage.
// Workers are not started; tests drive processTask directly.
func newTestServer(t *testing.T) (*Server, storage.Storage) {
	t.Helper()
	provider := cache.NewInMemoryCache()
	t.Cleanup(provider.Close)
	store := storage.NewMemoryStorage(provider)

	chk, err := checker.New(checker.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(chk.Close)

	srv := NewServer(Options{
		Storage:    store,
		Checker:    chk,
		Port:       "0",
		MaxWorkers: 1,
	})
	return srv, store
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateTaskAndFetchResults(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.routes()

	rec := postJSON(t, router, "/tasks", map[string]interface{}{
		"emails": []string{"user@example.com", "ghost@temp-trash.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	taskID := created["task_id"]
	require.NotEmpty(t, taskID)

	// The task is pending until a worker picks it up
	req := httptest.NewRequest(http.MethodGet, "/tasks/"+taskID, nil)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, req)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status TaskStatusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, "pending", status.Status)

	// Drive the worker synchronously
	task, err := store.DequeueTask()
	require.NoError(t, err)
	srv.processTask(task)

	statusRec = httptest.NewRecorder()
	router.ServeHTTP(statusRec, httptest.NewRequest(http.MethodGet, "/tasks/"+taskID, nil))
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 2, status.TotalResults)
	assert.Equal(t, 1, status.TotalPages)

	resultsRec := httptest.NewRecorder()
	router.ServeHTTP(resultsRec, httptest.NewRequest(http.MethodGet, "/tasks-results/"+taskID, nil))
	require.Equal(t, http.StatusOK, resultsRec.Code)

	var page struct {
		Data  []types.Report `json:"data"`
		Page  int            `json:"page"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resultsRec.Body.Bytes(), &page))
	require.Len(t, page.Data, 2)
	assert.Equal(t, "user@example.com", page.Data[0].Email)
	assert.True(t, page.Data[0].Valid)
	assert.True(t, page.Data[1].Disposable, "pattern scoring flags the throwaway domain")
}

func TestCreateTaskRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.routes()

	rec := postJSON(t, router, "/tasks", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/tasks", map[string]interface{}{
		"emails":  []string{"user@example.com"},
		"webhook": map[string]interface{}{"url": "http://example.com/hook", "retries": 3, "ttl": "not-a-duration"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/tasks", map[string]interface{}{
		"emails":  []string{"user@example.com"},
		"webhook": map[string]interface{}{"url": "", "retries": 3, "ttl": "1h"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks-results/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsPagination(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.routes()

	emails := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		emails = append(emails, fmt.Sprintf("user%02d@example.com", i))
	}
	rec := postJSON(t, router, "/tasks", map[string]interface{}{"emails": emails})
	require.Equal(t, http.StatusOK, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	task, err := store.DequeueTask()
	require.NoError(t, err)
	srv.processTask(task)

	pageRec := httptest.NewRecorder()
	router.ServeHTTP(pageRec, httptest.NewRequest(http.MethodGet,
		"/tasks-results/"+created["task_id"]+"?page=2&per_page=10", nil))
	require.Equal(t, http.StatusOK, pageRec.Code)

	var page struct {
		Data  []types.Report `json:"data"`
		Page  int            `json:"page"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(pageRec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 25, page.Total)
	require.Len(t, page.Data, 10)
	assert.Equal(t, "user10@example.com", page.Data[0].Email, "page 2 starts at the 11th report")

	// A page past the end is empty, not a repeat of page 1
	pageRec = httptest.NewRecorder()
	router.ServeHTTP(pageRec, httptest.NewRequest(http.MethodGet,
		"/tasks-results/"+created["task_id"]+"?page=99&per_page=10", nil))
	require.Equal(t, http.StatusOK, pageRec.Code)
	require.NoError(t, json.Unmarshal(pageRec.Body.Bytes(), &page))
	assert.Equal(t, 99, page.Page)
	assert.Equal(t, 25, page.Total)
	assert.Empty(t, page.Data)
}

func TestWebhookDelivery(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.routes()

	const secret = "hook-secret"
	var received atomic.Int32
	var gotSignature, gotBody atomic.Value
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		gotSignature.Store(r.Header.Get("X-Signature"))
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody.Store(buf.Bytes())
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hook.Close)

	rec := postJSON(t, router, "/tasks", map[string]interface{}{
		"emails":  []string{"user@example.com"},
		"webhook": map[string]interface{}{"url": hook.URL, "secret": secret, "retries": 3, "ttl": "1h"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	task, err := store.DequeueTask()
	require.NoError(t, err)
	srv.processTask(task)

	assert.Equal(t, int32(1), received.Load(), "a successful delivery is not retried")

	// The signature must verify against the raw payload
	body := gotBody.Load().([]byte)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature.Load())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, float64(1), payload["results"])
}

func TestWebhookRetriesUntilSuccess(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.routes()

	var attempts atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hook.Close)

	rec := postJSON(t, router, "/tasks", map[string]interface{}{
		"emails":  []string{"user@example.com"},
		"webhook": map[string]interface{}{"url": hook.URL, "retries": 3, "ttl": "1h"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	task, err := store.DequeueTask()
	require.NoError(t, err)
	start := time.Now()
	srv.processTask(task)

	assert.Equal(t, int32(2), attempts.Load())
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second, "failed attempts back off before retrying")
}

func TestWebhookNoPauseAfterFinalAttempt(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.routes()

	var attempts atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(hook.Close)

	rec := postJSON(t, router, "/tasks", map[string]interface{}{
		"emails":  []string{"user@example.com"},
		"webhook": map[string]interface{}{"url": hook.URL, "retries": 1, "ttl": "1h"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	task, err := store.DequeueTask()
	require.NoError(t, err)
	start := time.Now()
	srv.processTask(task)

	assert.Equal(t, int32(1), attempts.Load())
	assert.Less(t, time.Since(start), time.Second, "giving up must not sleep after the last attempt")
}

func TestAdminRoutesRequireKey(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/keys", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGenerateSignatureDeterministic(t *testing.T) {
	payload := []byte(`{"task_id":"1"}`)
	assert.Equal(t, generateSignature(payload, "s"), generateSignature(payload, "s"))
	assert.NotEqual(t, generateSignature(payload, "s"), generateSignature(payload, "other"))
}
