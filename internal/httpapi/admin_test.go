package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatd/internal/manager"
	"chatd/pkg/types"
)

type mockAdmin struct {
	ready     bool
	status    types.StatusResponse
	models    []types.Model
	modelsErr error
	trimmed   int
	trimArg   int
	evictErr  error
	evicted   string
}

func (m *mockAdmin) Ready() bool                        { return m.ready }
func (m *mockAdmin) Status() types.StatusResponse       { return m.status }
func (m *mockAdmin) ListModels() ([]types.Model, error) { return m.models, m.modelsErr }
func (m *mockAdmin) Trim(n int) int                     { m.trimArg = n; return m.trimmed }
func (m *mockAdmin) Evict(path string) error            { m.evicted = path; return m.evictErr }

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestAdmin_HealthAndReady(t *testing.T) {
	svc := &mockAdmin{ready: true}
	h := NewAdminMux(svc)
	if w := serve(h, http.MethodGet, "/healthz"); w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", w.Code, w.Body.String())
	}
	if w := serve(h, http.MethodGet, "/readyz"); w.Code != http.StatusOK {
		t.Fatalf("readyz: %d", w.Code)
	}
	svc.ready = false
	w := serve(h, http.MethodGet, "/readyz")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "shutting down") {
		t.Fatalf("readyz not ready: %d %q", w.Code, w.Body.String())
	}
}

func TestAdmin_Status(t *testing.T) {
	h := NewAdminMux(&mockAdmin{status: types.StatusResponse{BudgetMB: 10, Workers: 4}})
	w := serve(h, http.MethodGet, "/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.BudgetMB != 10 || body.Workers != 4 || body.Instances != nil && len(body.Instances) != 0 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAdmin_Models(t *testing.T) {
	svc := &mockAdmin{models: []types.Model{{ID: "a.gguf"}, {ID: "b.gguf"}}}
	h := NewAdminMux(svc)
	w := serve(h, http.MethodGet, "/models")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Models) != 2 {
		t.Fatalf("models len=%d", len(body.Models))
	}

	svc.models, svc.modelsErr = nil, errors.New("read dir: no such file")
	w = serve(h, http.MethodGet, "/models")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Code != 500 {
		t.Fatalf("error body: %q", w.Body.String())
	}
}

func TestAdmin_Evict(t *testing.T) {
	svc := &mockAdmin{trimmed: 2}
	h := NewAdminMux(svc)

	w := serve(h, http.MethodPost, "/evict")
	if w.Code != http.StatusOK || svc.trimArg != 0 || !strings.Contains(w.Body.String(), `"evicted":2`) {
		t.Fatalf("trim all: %d %q arg=%d", w.Code, w.Body.String(), svc.trimArg)
	}
	if w := serve(h, http.MethodPost, "/evict?n=1"); w.Code != http.StatusOK || svc.trimArg != 1 {
		t.Fatalf("trim n: %d arg=%d", w.Code, svc.trimArg)
	}
	if w := serve(h, http.MethodPost, "/evict?n=-3"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad n: %d", w.Code)
	}
	if w := serve(h, http.MethodPost, "/evict?path=/m/a.gguf"); w.Code != http.StatusOK || svc.evicted != "/m/a.gguf" {
		t.Fatalf("evict path: %d %q", w.Code, svc.evicted)
	}
	svc.evictErr = errors.New("model in use")
	if w := serve(h, http.MethodPost, "/evict?path=/m/a.gguf"); w.Code != http.StatusConflict {
		t.Fatalf("evict in use: %d", w.Code)
	}
	svc.evictErr = manager.ErrValidation("empty path")
	if w := serve(h, http.MethodPost, "/evict?path=x"); w.Code != http.StatusBadRequest {
		t.Fatalf("evict invalid: %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "/evict"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /evict: %d", w.Code)
	}
}

func TestAdmin_DoesNotServeChat(t *testing.T) {
	h := NewAdminMux(&mockAdmin{})
	if w := serve(h, http.MethodPost, "/api/chat"); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}
