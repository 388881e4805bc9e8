package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rollinrhu-cell/youtube-channel-digest/internal/digest"
	"github.com/rollinrhu-cell/youtube-channel-digest/internal/metrics"
)

// WebPublisher serves the latest record of every digest over HTTP.
type WebPublisher struct {
	addr   string
	server *http.Server
	logger zerolog.Logger

	mu     sync.RWMutex
	latest map[string]*digest.Record
}

func NewWebPublisher(addr string, logger zerolog.Logger) *WebPublisher {
	wp := &WebPublisher{
		addr:   addr,
		logger: logger,
		latest: make(map[string]*digest.Record),
	}
	wp.server = &http.Server{
		Addr:              addr,
		Handler:           wp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return wp
}

// Handler returns the router.
func (wp *WebPublisher) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", wp.handleIndex)
	r.Get("/digests/{id}", wp.handleDigest)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Start begins serving HTTP in the background. Call Shutdown to stop.
func (wp *WebPublisher) Start() error {
	ln, err := net.Listen("tcp", wp.addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen on %s: %w", wp.addr, err)
	}
	go func() {
		wp.logger.Info().Str("addr", ln.Addr().String()).Msg("web: listening")
		if err := wp.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wp.logger.Error().Err(err).Msg("web: server stopped")
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (wp *WebPublisher) Shutdown(ctx context.Context) error {
	return wp.server.Shutdown(ctx)
}

func (wp *WebPublisher) Publish(_ context.Context, record *digest.Record, _ []string) error {
	wp.mu.Lock()
	wp.latest[record.DigestID] = record
	wp.mu.Unlock()
	wp.logger.Info().Str("digest", record.DigestID).Int("uploads", len(record.Entries)).Msg("web: digest updated")
	return nil
}

// Latest returns the most recent record published for id.
func (wp *WebPublisher) Latest(id string) (*digest.Record, bool) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	r, ok := wp.latest[id]
	return r, ok
}

func (wp *WebPublisher) handleIndex(w http.ResponseWriter, _ *http.Request) {
	wp.mu.RLock()
	views := make([]recordView, 0, len(wp.latest))
	for _, r := range wp.latest {
		views = append(views, newRecordView(r, ""))
	}
	wp.mu.RUnlock()
	sort.Slice(views, func(i, j int) bool {
		if views[i].Name != views[j].Name {
			return views[i].Name < views[j].Name
		}
		return views[i].ID < views[j].ID
	})

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, views); err != nil {
		wp.logger.Error().Err(err).Msg("web: render index")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (wp *WebPublisher) handleDigest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok := wp.Latest(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, newRecordView(record, "")); err != nil {
		wp.logger.Error().Err(err).Str("digest", id).Msg("web: render digest")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
