package source

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize holds one SRT message. 1316 bytes = 7 MPEG-TS packets,
// the standard live payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtConfig is the dial target parsed from an srt:// URL.
type srtConfig struct {
	addr     string
	streamID string
}

// parseSRTURL reads srt://host:port?streamid=... A path is used as the
// stream id when the query does not name one.
func parseSRTURL(u *url.URL) (srtConfig, error) {
	cfg := srtConfig{addr: u.Host}
	if u.Hostname() == "" || u.Port() == "" {
		return cfg, fmt.Errorf("source: srt URL %q needs host:port", u.String())
	}
	cfg.streamID = u.Query().Get("streamid")
	if cfg.streamID == "" {
		cfg.streamID = strings.TrimPrefix(u.Path, "/")
	}
	return cfg, nil
}

// srtSource reads a remote SRT listener in caller mode. Messages are
// buffered so callers may read in units smaller than one SRT payload.
type srtSource struct {
	counters
	log     *slog.Logger
	cfg     srtConfig
	timeout time.Duration

	mu   sync.Mutex
	conn *srtgo.Conn

	buf  []byte
	r, w int
}

func openSRT(u *url.URL, opts Options) (Source, error) {
	cfg, err := parseSRTURL(u)
	if err != nil {
		return nil, err
	}
	s := &srtSource{
		log:     opts.Log.With("component", "srt-source"),
		cfg:     cfg,
		timeout: opts.DialTimeout,
		buf:     make([]byte, srtReadBufferSize),
	}
	s.init("srt", u.String())
	if err := s.dial(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *srtSource) dial() error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = s.cfg.streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(s.cfg.addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("source: SRT dial %s: %w", s.cfg.addr, res.err)
		}
		s.mu.Lock()
		s.conn = res.conn
		s.mu.Unlock()
		s.r, s.w = 0, 0
		s.log.Info("connected", "addr", s.cfg.addr, "stream_id", s.cfg.streamID)
		return nil
	case <-timer.C:
		// Close any connection that completes after the timeout.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return fmt.Errorf("source: SRT dial %s timed out after %s", s.cfg.addr, s.timeout)
	}
}

func (s *srtSource) Read(p []byte) (int, error) {
	if s.r == s.w {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return 0, errors.New("source: SRT connection closed")
		}
		n, err := conn.Read(s.buf)
		if err != nil {
			return 0, err
		}
		s.recordRead(n)
		s.r, s.w = 0, n
	}
	n := copy(p, s.buf[s.r:s.w])
	s.r += n
	return n, nil
}

// Rewind reconnects; a live stream has no beginning to return to.
func (s *srtSource) Rewind() error {
	s.closeConn()
	if err := s.dial(); err != nil {
		return err
	}
	s.recordRewind()
	return nil
}

func (s *srtSource) Interrupt() {
	s.closeConn()
}

func (s *srtSource) Close() error {
	s.closeConn()
	return nil
}

func (s *srtSource) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
