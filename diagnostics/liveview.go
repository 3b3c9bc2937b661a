// Package diagnostics serves the development overlay: a small web page that
// polls the context pool and lists the active handles. It only reads pool
// state, except for the explicit recovery button.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/timzifer/ctxguard/guard"
)

// Source is the pool view the live view polls.
type Source interface {
	Do(ctx context.Context, fn func()) error
	Snapshot() guard.Snapshot
	ForceGlobalCleanup()
	Gatherer() prometheus.Gatherer
}

type liveStateResponse struct {
	guard.Snapshot
	PollIntervalMS int64 `json:"poll_interval_ms"`
}

type handler struct {
	logger   zerolog.Logger
	source   Source
	interval time.Duration
}

// NewHandler builds the live view HTTP handler.
func NewHandler(source Source, interval time.Duration, logger zerolog.Logger) http.Handler {
	if interval <= 0 {
		interval = time.Second
	}
	h := &handler{logger: logger, source: source, interval: interval}
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("/api/state", h.handleState)
	mux.HandleFunc("/api/recover", h.handleRecover)
	if gatherer := source.Gatherer(); gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := liveViewTemplate.Execute(w, struct{ IntervalMS int64 }{h.interval.Milliseconds()}); err != nil {
		h.logger.Error().Err(err).Msg("render live view page")
	}
}

func (h *handler) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var snap guard.Snapshot
	if err := h.source.Do(r.Context(), func() { snap = h.source.Snapshot() }); err != nil {
		h.logger.Warn().Err(err).Msg("snapshot unavailable")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if snap.Handles == nil {
		snap.Handles = []string{}
	}
	writeJSON(w, h.logger, liveStateResponse{Snapshot: snap, PollIntervalMS: h.interval.Milliseconds()})
}

func (h *handler) handleRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.source.Do(r.Context(), h.source.ForceGlobalCleanup); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	h.logger.Info().Str("remote", r.RemoteAddr).Msg("global cleanup requested from live view")
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error().Err(err).Msg("encode live view response")
	}
}

// Server is a running live view.
type Server struct {
	logger zerolog.Logger
	server *http.Server
	ln     net.Listener
}

// Start listens on listen and serves the live view in the background.
func Start(listen string, source Source, interval time.Duration, logger zerolog.Logger) (*Server, error) {
	if source == nil {
		return nil, errors.New("live view source is nil")
	}
	logger = logger.With().Str("component", "live_view").Logger()
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           NewHandler(source, interval, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s := &Server{logger: logger, server: srv, ln: ln}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("live view server stopped")
		}
	}()

	logger.Info().Str("listen", ln.Addr().String()).Msg("live view started")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

var liveViewTemplate = template.Must(template.New("live").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Rendering contexts</title>
<style>
body { font-family: system-ui, sans-serif; background: #111; color: #eee; margin: 1.5rem; }
.overlay { position: fixed; top: 1rem; right: 1rem; background: rgba(0,0,0,.75); padding: .5rem .75rem; border-radius: .25rem; font-size: .85rem; max-width: 20rem; }
.overlay h1 { font-size: 1rem; margin: 0 0 .25rem; }
.failed { color: #f87171; }
.healthy { color: #4ade80; }
button { margin-top: .5rem; }
</style>
</head>
<body>
<div class="overlay">
  <h1>Rendering contexts: <span id="count">0</span> / <span id="capacity">0</span></h1>
  <div id="handles"></div>
  <div id="boundaries"></div>
  <button id="recover">Force cleanup</button>
</div>
<script>
const interval = {{.IntervalMS}};
async function poll() {
  try {
    const res = await fetch('/api/state');
    const state = await res.json();
    document.getElementById('count').textContent = state.active;
    document.getElementById('capacity').textContent = state.capacity;
    document.getElementById('handles').innerHTML = state.handles.map(h => '<div>' + h + '</div>').join('');
    document.getElementById('boundaries').innerHTML = (state.boundaries || []).map(b =>
      '<div class="' + b.state + '">' + b.name + ': ' + b.state + (b.message ? ' (' + b.message + ')' : '') + '</div>').join('');
  } catch (err) {
    console.warn('poll failed', err);
  }
}
document.getElementById('recover').addEventListener('click', () => fetch('/api/recover', {method: 'POST'}));
poll();
setInterval(poll, interval);
</script>
</body>
</html>
`))
