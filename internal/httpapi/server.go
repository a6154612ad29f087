package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/internal/manager"
	"chatd/pkg/types"
)

// ResponsePrefix precedes the generated text in every successful chat response.
const ResponsePrefix = "Inference result: "

// Service is what the chat endpoint needs from the serving core.
type Service interface {
	Handle(ctx context.Context, req manager.Request) (manager.Result, error)
}

// AdminService is what the admin listener needs.
type AdminService interface {
	Ready() bool
	Status() types.StatusResponse
	ListModels() ([]types.Model, error)
	Trim(n int) int
	Evict(path string) error
}

func baseRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	return r
}

// NewMux returns the public chat router. Anything other than POST /api/chat
// gets an empty 404.
func NewMux(svc Service) http.Handler {
	r := baseRouter()
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) { writeEmpty(w, http.StatusNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { writeEmpty(w, http.StatusNotFound) })

	r.With(middleware.Compress(5, "application/json")).Post("/api/chat", chatHandler(svc))
	return r
}

// chatHandler godoc
// @Summary      Run a prompt against a model
// @Description  Loads the model on first use and returns the generated text prefixed with "Inference result: ". Error responses have empty bodies.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request  body      types.ChatRequest  true  "Prompt and model path"
// @Success      200      {object}  types.ChatResponse
// @Failure      400      "malformed body or invalid request"
// @Failure      500      "model load, busy, timeout or inference failure"
// @Router       /api/chat [post]
func chatHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var body types.ChatRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil {
			writeEmpty(w, http.StatusBadRequest)
			return
		}
		// The body must hold exactly one JSON value.
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			writeEmpty(w, http.StatusBadRequest)
			return
		}

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Handle(ctx, manager.Request{
			ID:        middleware.GetReqID(r.Context()),
			Prompt:    body.Prompt,
			ModelPath: body.ModelPath,
			MaxTokens: body.MaxTokens,
		})
		if err != nil {
			switch {
			case manager.IsSessionBusy(err):
				IncrementBackpressure("session_busy")
			case manager.IsTimeout(err):
				IncrementBackpressure("timeout")
			}
			writeEmpty(w, statusFor(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.ChatResponse{Response: ResponsePrefix + res.Text})
	}
}

// NewAdminMux returns the operator router: health, readiness, metrics,
// status, model listing, eviction and (with -tags swagger) API docs.
func NewAdminMux(svc AdminService) http.Handler {
	r := baseRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/status", statusHandler(svc))
	r.Get("/models", modelsHandler(svc))
	r.Post("/evict", evictHandler(svc))

	MountSwagger(r)
	return r
}

// statusHandler godoc
// @Summary      Serving core status
// @Tags         admin
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func statusHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// modelsHandler godoc
// @Summary      List model files in the models directory
// @Tags         admin
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /models [get]
func modelsHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.ListModels()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if models == nil {
			models = []types.Model{}
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
	}
}

// evictHandler godoc
// @Summary      Unload idle models
// @Description  With path, unloads that model if idle. Otherwise unloads up to n least recently used idle models (all when n is omitted).
// @Tags         admin
// @Produce      json
// @Param        path  query     string  false  "Model path"
// @Param        n     query     int     false  "Maximum number of idle models to evict"
// @Success      200   {object}  types.EvictResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      409   {object}  types.ErrorResponse
// @Router       /evict [post]
func evictHandler(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if p := strings.TrimSpace(q.Get("path")); p != "" {
			if err := svc.Evict(p); err != nil {
				status := http.StatusConflict
				if manager.IsValidation(err) {
					status = http.StatusBadRequest
				}
				writeJSONError(w, status, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, types.EvictResponse{Evicted: 1})
			return
		}
		n := 0
		if v := q.Get("n"); v != "" {
			var err error
			if n, err = strconv.Atoi(v); err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "n must be a non-negative integer")
				return
			}
		}
		writeJSON(w, http.StatusOK, types.EvictResponse{Evicted: svc.Trim(n)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
