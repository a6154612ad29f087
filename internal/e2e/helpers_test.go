package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatd/internal/httpapi"
	"chatd/internal/llm/llmtest"
	"chatd/internal/manager"
)

// newServer wires the chat router to a manager backed by eng.
func newServer(t *testing.T, eng *llmtest.Engine, mut func(*manager.ManagerConfig)) (*httptest.Server, *manager.Manager) {
	t.Helper()
	cfg := manager.ManagerConfig{Engine: eng, Workers: 4}
	if mut != nil {
		mut(&cfg)
	}
	mgr := manager.NewWithConfig(cfg)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rd)
	if err != nil {
		t.Errorf("new request: %v", err)
		return 0, nil
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Errorf("do request: %v", err)
		return 0, nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func chat(t *testing.T, base, prompt, modelPath string) (int, []byte) {
	t.Helper()
	return do(t, http.MethodPost, base+"/api/chat", `{"prompt":`+quote(prompt)+`,"model_path":`+quote(modelPath)+`}`)
}

func quote(s string) string {
	var b bytes.Buffer
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
