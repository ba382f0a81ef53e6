package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"knobd/internal/knob"
)

// ============================================================================
// HTTP API
// ============================================================================
// REST endpoints for dashboards and appliance bridges, the state WebSocket
// and the Prometheus scrape endpoint. Every handler goes through the daemon
// event loop; nothing here touches knob state directly.
// ============================================================================

type apiError struct {
	Error string `json:"error"`
}

type setValueRequest struct {
	Value any `json:"value"`
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// newRouter wires the HTTP API. metrics and ws may be nil.
func newRouter(events chan<- Event, ws *Server, metrics *Metrics, logger *slog.Logger) http.Handler {
	api := &httpAPI{events: events, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/knobs", func(r chi.Router) {
		r.Get("/", api.listKnobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", api.getKnob)
			r.Post("/confirm", api.confirm)
			r.Post("/cancel", api.cancelPending)
			r.Put("/value", api.setValue)
			r.Put("/enabled", api.setEnabled)
		})
	})

	if ws != nil {
		ws.Register(r, "/ws")
	}
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	return r
}

type httpAPI struct {
	events chan<- Event
	logger *slog.Logger
}

func (a *httpAPI) listKnobs(w http.ResponseWriter, r *http.Request) {
	reply, err := request(r.Context(), a.events, RequestSnapshot{})
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply.Knobs)
}

func (a *httpAPI) getKnob(w http.ResponseWriter, r *http.Request) {
	a.do(w, r, RequestSnapshot{Knob: chi.URLParam(r, "id")})
}

func (a *httpAPI) confirm(w http.ResponseWriter, r *http.Request) {
	a.do(w, r, Confirm{Knob: chi.URLParam(r, "id")})
}

func (a *httpAPI) cancelPending(w http.ResponseWriter, r *http.Request) {
	a.do(w, r, CancelPending{Knob: chi.URLParam(r, "id")})
}

func (a *httpAPI) setValue(w http.ResponseWriter, r *http.Request) {
	var body setValueRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	a.do(w, r, SetValue{Knob: chi.URLParam(r, "id"), Value: body.Value})
}

func (a *httpAPI) setEnabled(w http.ResponseWriter, r *http.Request) {
	var body setEnabledRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	if body.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "enabled is required"})
		return
	}
	a.do(w, r, SetEnabled{Knob: chi.URLParam(r, "id"), Enabled: *body.Enabled})
}

// do runs a single-knob request through the daemon and writes the knob's
// resulting snapshot.
func (a *httpAPI) do(w http.ResponseWriter, r *http.Request, ev replyable) {
	reply, err := request(r.Context(), a.events, ev)
	if err == nil {
		err = reply.Err
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply.Knob)
}

func (a *httpAPI) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Warn("http request failed", "error", err)
	}
	writeJSON(w, status, apiError{Error: err.Error()})
}

func statusFor(err error) int {
	var unknown errUnknownKnob
	switch {
	case errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.Is(err, knob.ErrNothingPending):
		return http.StatusConflict
	case errors.Is(err, knob.ErrUnknownStep),
		errors.Is(err, knob.ErrWrongMode),
		errors.Is(err, knob.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runHTTPServer serves handler on addr and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	logger.Info("http server listening", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
