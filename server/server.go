package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"swap-metrics-indexer/logger"
	"swap-metrics-indexer/stats"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Aggregator computes the metrics document served by the router.
type Aggregator interface {
	Compute(ctx context.Context) (*stats.Document, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter serves GET /metrics. Every other path and method gets a JSON 404.
func NewRouter(agg Aggregator) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/metrics", metricsHandler(agg)).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound

	return r
}

func metricsHandler(agg Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := agg.Compute(r.Context())
		if err != nil {
			logger.Error("Metrics request failed: %s", err)
			writeResponse(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		writeResponse(w, http.StatusOK, doc)
	}
}

// Write value into w as json. Handles possible error as internal server error
func writeResponse(w http.ResponseWriter, status int, value any) {
	body, err := json.Marshal(value)
	if err != nil {
		http.Error(w, "error writing response: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Debug("Response write error: %s", err)
	}
}

// Serve listens on address until ctx is cancelled, then shuts the server
// down, waiting at most shutdownTimeout for in-flight requests.
func Serve(ctx context.Context, address string, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           handler,
		Addr:              address,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting server on %s", address)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return errors.Wrap(err, "Serve")
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "Serve: shutdown")
	}
	if err := <-errChan; err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "Serve")
	}
	return nil
}

// Export computes the document once and writes it to path as indented JSON.
func Export(ctx context.Context, agg Aggregator, path string) error {
	doc, err := agg.Compute(ctx)
	if err != nil {
		return errors.Wrap(err, "Export")
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Export: encode")
	}

	if err := os.WriteFile(path, append(body, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "Export: write %s", path)
	}

	logger.Info("Metrics exported to %s", path)
	return nil
}
