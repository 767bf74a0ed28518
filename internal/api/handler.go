package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querypilot/querypilot/internal/audit"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/dataset"
	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/response"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// Pipeline is the subset of pipeline.Service the handlers use.
type Pipeline interface {
	LoadDataset(ctx context.Context, sessionID string, in dataset.Input) (pipeline.DatasetSummary, error)
	LoadObject(ctx context.Context, sessionID, key string, format dataset.Format) (pipeline.DatasetSummary, error)
	ListObjects(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error)
	Describe(ctx context.Context, sessionID string) (schema.Description, error)
	Ask(ctx context.Context, sessionID string, in pipeline.AskInput) (response.Response, error)
	EndSession(sessionID string) bool
	Runs(ctx context.Context, sessionID string, limit int) ([]audit.Run, error)
	Run(ctx context.Context, runID string) (audit.Run, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Pipeline          Pipeline
	MaxUploadBytes    int64
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = cfg.Dataset.MaxUploadBytes
	}
	routes := map[string]func(Dependencies, http.ResponseWriter, *http.Request){
		"PUT /v1/sessions/{session}/dataset":         handleLoadDataset,
		"POST /v1/sessions/{session}/dataset/object": handleLoadObject,
		"GET /v1/sessions/{session}/schema":          handleDescribe,
		"POST /v1/sessions/{session}/ask":            handleAsk,
		"DELETE /v1/sessions/{session}":              handleEndSession,
		"GET /v1/sessions/{session}/runs":            handleListRuns,
		"GET /v1/runs/{run}":                         handleGetRun,
		"GET /v1/objects":                            handleListObjects,
	}
	for pattern, handle := range routes {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if deps.Pipeline == nil {
				writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "pipeline dependencies are not configured", false, nil)
				return
			}
			handle(deps, w, r)
		})
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// CheckWorkDir reports whether dataset stores can be created under dir. An
// empty dir means the OS temp directory.
func CheckWorkDir(dir string) ReadinessCheck {
	return func(_ context.Context) error {
		if strings.TrimSpace(dir) == "" {
			dir = os.TempDir()
		}
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("dataset work dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("dataset work dir %q is not a directory", dir)
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeFailure maps a classified pipeline error onto the error envelope.
func writeFailure(r *http.Request, w http.ResponseWriter, err error, extra map[string]any) {
	var typed *failure.Error
	if !errors.As(err, &typed) {
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "internal error", true, map[string]any{"details": err.Error()})
		return
	}
	status, retryable := statusForKind(typed.Kind)
	code := strings.ToUpper(string(typed.Kind))
	if extra == nil && typed.Err != nil {
		extra = map[string]any{"details": typed.Err.Error()}
	}
	writeError(r.Context(), w, status, code, typed.Message, retryable, extra)
}

func statusForKind(kind failure.Kind) (int, bool) {
	switch kind {
	case failure.KindInvalidRequest:
		return http.StatusBadRequest, false
	case failure.KindIngestion, failure.KindIntrospection:
		return http.StatusUnprocessableEntity, false
	case failure.KindNoDataset:
		return http.StatusConflict, false
	case failure.KindProvider:
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}

func sessionFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("session"))
}
