// Package monitor serves a small control and inspection API for a running
// playback session over HTTPS and HTTP/3.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/cadence/internal/certs"
	"github.com/zsiec/cadence/internal/convert"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/playback"
)

// Player is the part of a playback session the monitor drives.
type Player interface {
	Stats() playback.Stats
	GrabCurrentFrame() *media.VideoFrame
	Play() bool
	Pause() bool
	Stop() bool
}

// Config holds the parameters for creating a Server.
type Config struct {
	Addr   string
	Cert   *certs.CertInfo
	Player Player
	// Interval between stats pushes on /api/events. Defaults to one second.
	Interval time.Duration
	Log      *slog.Logger
}

// Server exposes session stats, the current frame and transport controls.
type Server struct {
	config Config
	log    *slog.Logger
	h3     *http3.Server
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewServer validates cfg and returns a Server ready to Start.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Player == nil {
		return nil, errors.New("monitor: player is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		config: cfg,
		log:    log.With("component", "monitor"),
	}, nil
}

// Handler returns the API routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/frame.png", s.handleFrame)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/session/{action}", s.handleControl)
	if s.config.Cert != nil {
		mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	}
	return corsMiddleware(mux)
}

// Start serves HTTPS on TCP and HTTP/3 on UDP at the same address, and
// blocks until ctx is cancelled or either listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s.config.Cert == nil {
		return errors.New("monitor: certificate is required")
	}
	tlsConfig := s.config.Cert.TLSConfig()

	s.h3 = &http3.Server{
		Addr:      s.config.Addr,
		Handler:   s.Handler(),
		TLSConfig: http3.ConfigureTLSConfig(tlsConfig),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
			Allow0RTT:      true,
		},
	}
	httpsSrv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.altSvc(s.h3.Handler),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("monitor: listen: %w", err)
	}

	s.log.Info("monitor listening", "addr", ln.Addr().String(),
		"fingerprint", s.config.Cert.FingerprintBase64())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := httpsSrv.ServeTLS(ln, "", "")
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := s.h3.ListenAndServe()
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpsSrv.Shutdown(shutdownCtx)
		return s.h3.Close()
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// altSvc advertises the HTTP/3 endpoint to HTTPS clients.
func (s *Server) altSvc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
			s.log.Debug("alt-svc header", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Player.Stats())
}

func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	f := s.config.Player.GrabCurrentFrame()
	if f == nil {
		writeError(w, http.StatusNotFound, "no frame")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-PTS", fmt.Sprintf("%.3f", f.PTS))
	if err := png.Encode(w, convert.Image(f)); err != nil {
		s.log.Debug("encoding frame", "error", err)
	}
}

type controlResponse struct {
	Action  string `json:"action"`
	Changed bool   `json:"changed"`
	State   string `json:"state"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	var changed bool
	switch action {
	case "play":
		changed = s.config.Player.Play()
	case "pause":
		changed = s.config.Player.Pause()
	case "stop":
		changed = s.config.Player.Stop()
	default:
		writeError(w, http.StatusNotFound, "unknown action "+action)
		return
	}
	s.log.Info("control", "action", action, "changed", changed)
	writeJSON(w, http.StatusOK, controlResponse{
		Action:  action,
		Changed: changed,
		State:   s.config.Player.Stats().State,
	})
}

type certHashResponse struct {
	Hash     string    `json:"hash"`
	NotAfter time.Time `json:"notAfter"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash:     s.config.Cert.FingerprintBase64(),
		NotAfter: s.config.Cert.NotAfter,
	})
}

type statsMessage struct {
	Type  string         `json:"type"`
	Stats playback.Stats `json:"stats"`
}

// handleEvents pushes a stats message immediately and then every Interval
// until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	// Reads are only needed to notice the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("websocket read", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		msg := statsMessage{Type: "stats", Stats: s.config.Player.Stats()}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug("websocket write", "error", err)
			return
		}
		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
