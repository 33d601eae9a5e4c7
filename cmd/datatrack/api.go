package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/datatrack/drift"
	"github.com/hazyhaar/datatrack/eval"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/gaps"
	"github.com/hazyhaar/datatrack/ingest"
	"github.com/hazyhaar/datatrack/observability"
	"github.com/hazyhaar/datatrack/shield"
)

const (
	schedulerWorker = "scheduler"
	maxBodyBytes    = 1 << 20
)

// newRouter builds the HTTP API. Every request is logged to the
// observability database, which feeds the dashboard drift sampler.
func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(maxBodyBytes) {
		r.Use(mw)
	}
	r.Use(observability.RequestLogger(a.obs, a.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if err := a.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
			return
		}
		hb, _ := observability.LatestHeartbeat(r.Context(), a.obs, schedulerWorker, 3*time.Minute)
		if hb != nil && !hb.Alive {
			status = "degraded"
		}
		open, _ := a.gaps.CountOpen(r.Context())
		body := map[string]any{
			"status": status, "version": version, "scheduler": hb, "openGaps": open,
		}
		if l, _ := a.ingest.SchedulerLeader(r.Context()); l != nil {
			body["leader"] = map[string]any{"holder": l.Holder, "expiresAt": l.ExpiresAt}
		}
		writeJSON(w, http.StatusOK, body)
	})

	if a.cfg.MCPTransport != "none" {
		mcpSrv := a.mcpServer()
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/connectors", func(w http.ResponseWriter, r *http.Request) {
			list, err := a.ingest.ConnectorStatuses(r.Context())
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, list)
		})

		r.Get("/connectors/due", func(w http.ResponseWriter, r *http.Request) {
			list, err := a.ingest.GetDueConnectors(r.Context())
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(list))
		})

		r.Get("/connectors/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if _, err := a.ingest.GetConnector(r.Context(), id); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			runs, err := a.ingest.ListRuns(r.Context(), id, queryInt(r, "limit", 20))
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(runs))
		})

		r.Post("/connectors/{id}/run", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Force  bool `json:"force"`
				DryRun bool `json:"dry_run"`
			}
			if r.ContentLength > 0 {
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, http.StatusBadRequest, err)
					return
				}
			}
			res, err := a.ingest.RunConnector(r.Context(), chi.URLParam(r, "id"), ingest.RunOptions{
				Force: req.Force, DryRun: req.DryRun, TriggeredBy: ingest.TriggerAPI,
			})
			if err != nil {
				var pe *ingest.PreflightError
				if errors.As(err, &pe) {
					writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "reasons": pe.Reasons})
					return
				}
				if res != nil && res.Run != nil {
					writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "runId": res.Run.ID, "result": res})
					return
				}
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/ingest/run", func(w http.ResponseWriter, r *http.Request) {
			res, err := a.ingest.RunScheduledIngestion(r.Context())
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
			run, err := a.ingest.GetRun(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			if run == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			objs, err := a.evidence.ListForRun(r.Context(), run.ID)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"run": run, "evidence": orEmpty(objs)})
		})

		r.Get("/evidence/{id}", func(w http.ResponseWriter, r *http.Request) {
			obj, err := a.evidence.Get(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, obj)
		})

		r.Post("/evidence/{id}/supersede", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if err := a.evidence.Supersede(r.Context(), id); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			obj, err := a.evidence.Get(r.Context(), id)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, obj)
		})

		r.Post("/drift/metrics", func(w http.ResponseWriter, r *http.Request) {
			var s drift.Sample
			if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res, err := a.drift.RecordDriftMetric(r.Context(), s)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, res)
		})

		r.Get("/drift/metrics", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			list, err := a.drift.Store().List(r.Context(), drift.Filter{
				Domain:       drift.Domain(q.Get("domain")),
				Metric:       q.Get("metric"),
				BreachedOnly: q.Get("breached") == "true",
				Limit:        queryInt(r, "limit", 100),
			})
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(list))
		})

		r.Post("/drift/check", func(w http.ResponseWriter, r *http.Request) {
			res, err := a.drift.RunFullDriftCheck(r.Context())
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/eval/suite", func(w http.ResponseWriter, r *http.Request) {
			res, err := a.eval.RunFullEvalSuite(r.Context(), "api")
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Post("/eval/gate", func(w http.ResponseWriter, r *http.Request) {
			res, err := a.eval.RunCitationCoverageGate(r.Context())
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		r.Get("/eval/runs", func(w http.ResponseWriter, r *http.Request) {
			runs, err := a.eval.Store().List(r.Context(), queryInt(r, "limit", 20))
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(runs))
		})

		r.Get("/gaps", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			list, err := a.gaps.List(r.Context(), gaps.ListFilter{
				Status: gaps.Status(q.Get("status")),
				Origin: gaps.Origin(q.Get("origin")),
				Limit:  queryInt(r, "limit", 50),
			})
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, orEmpty(list))
		})

		r.Post("/gaps/{id}/close", func(w http.ResponseWriter, r *http.Request) {
			t, err := a.gaps.Close(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, t)
		})
	})
	return r
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrConnectorNotFound),
		errors.Is(err, ingest.ErrSourceNotFound),
		errors.Is(err, evidence.ErrObjectNotFound),
		errors.Is(err, gaps.ErrTicketNotFound),
		errors.Is(err, eval.ErrUnknownScope):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrPreflight):
		return http.StatusUnprocessableEntity
	case ingest.IsInvalid(err), errors.Is(err, drift.ErrUnknownMetric):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
