//go:build !swagger

package httpapi

import (
	"net/http"
	"testing"
)

func TestAdmin_SwaggerDisabledByDefault(t *testing.T) {
	h := NewAdminMux(&mockAdmin{})
	if w := serve(h, http.MethodGet, "/swagger/index.html"); w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}
