package monitor

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/cadence/internal/certs"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/playback"
)

type fakePlayer struct {
	mu    sync.Mutex
	state string
	frame *media.VideoFrame
	calls []string
}

func (p *fakePlayer) Stats() playback.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return playback.Stats{State: p.state, Clock: 1.5, Format: "avi"}
}

func (p *fakePlayer) GrabCurrentFrame() *media.VideoFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

func (p *fakePlayer) transition(call, to string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	changed := p.state != to
	p.state = to
	return changed
}

func (p *fakePlayer) Play() bool  { return p.transition("play", "playing") }
func (p *fakePlayer) Pause() bool { return p.transition("pause", "paused") }
func (p *fakePlayer) Stop() bool  { return p.transition("stop", "open") }

func newTestServer(t *testing.T, p *fakePlayer) *Server {
	t.Helper()
	cert, err := certs.Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("certs.Generate: %v", err)
	}
	srv, err := NewServer(Config{
		Addr:     ":0",
		Cert:     cert,
		Player:   p,
		Interval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestNewServerRequiresPlayer(t *testing.T) {
	t.Parallel()
	if _, err := NewServer(Config{}); err == nil {
		t.Fatal("expected error without a player")
	}
}

func TestHandleSession(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t, &fakePlayer{state: "open"}).Handler()

	req := httptest.NewRequest("GET", "/api/session", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q, want *", got)
	}
	var st playback.Stats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "open" || st.Clock != 1.5 || st.Format != "avi" {
		t.Errorf("stats = %+v", st)
	}
}

func TestHandleFrame(t *testing.T) {
	t.Parallel()
	p := &fakePlayer{state: "playing"}
	handler := newTestServer(t, p).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/frame.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no frame: status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	pix := make([]byte, 4*3*2)
	for i := range pix {
		pix[i] = 0xff
	}
	p.mu.Lock()
	p.frame = &media.VideoFrame{Width: 3, Height: 2, Pix: pix, PTS: 0.5}
	p.mu.Unlock()

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/frame.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-Frame-PTS"); got != "0.500" {
		t.Errorf("X-Frame-PTS = %q, want 0.500", got)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Errorf("bounds = %v, want 3x2", b)
	}
}

func TestHandleControl(t *testing.T) {
	t.Parallel()
	p := &fakePlayer{state: "open"}
	handler := newTestServer(t, p).Handler()

	tests := []struct {
		action      string
		wantCode    int
		wantChanged bool
		wantState   string
	}{
		{"play", http.StatusOK, true, "playing"},
		{"play", http.StatusOK, false, "playing"},
		{"pause", http.StatusOK, true, "paused"},
		{"stop", http.StatusOK, true, "open"},
		{"rewind", http.StatusNotFound, false, "open"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/session/"+tt.action, nil))
		if rec.Code != tt.wantCode {
			t.Fatalf("%s: status = %d, want %d", tt.action, rec.Code, tt.wantCode)
		}
		if tt.wantCode != http.StatusOK {
			continue
		}
		var resp controlResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("%s: decode: %v", tt.action, err)
		}
		if resp.Changed != tt.wantChanged || resp.State != tt.wantState {
			t.Errorf("%s: got changed=%v state=%q, want changed=%v state=%q",
				tt.action, resp.Changed, resp.State, tt.wantChanged, tt.wantState)
		}
	}
	if got := strings.Join(p.calls, ","); got != "play,play,pause,stop" {
		t.Errorf("calls = %q", got)
	}
}

func TestControlRequiresPost(t *testing.T) {
	t.Parallel()
	handler := newTestServer(t, &fakePlayer{state: "open"}).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/session/play", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCertHash(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakePlayer{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/cert-hash", nil))
	var resp certHashResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Hash != srv.config.Cert.FingerprintBase64() {
		t.Errorf("hash = %q, want %q", resp.Hash, srv.config.Cert.FingerprintBase64())
	}
}

func TestEventsPushesStats(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(newTestServer(t, &fakePlayer{state: "paused"}).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := range 3 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg statsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if msg.Type != "stats" || msg.Stats.State != "paused" {
			t.Errorf("message %d = %+v", i, msg)
		}
	}
}

func TestStartRequiresCert(t *testing.T) {
	t.Parallel()
	srv, err := NewServer(Config{Addr: ":0", Player: &fakePlayer{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(t.Context()); err == nil {
		t.Fatal("expected error without a certificate")
	}
}
