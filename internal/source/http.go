package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// httpSource streams a resource with a GET request. Rewind issues a new
// request; Interrupt cancels the one in flight.
type httpSource struct {
	counters
	log    *slog.Logger
	client *http.Client
	closer io.Closer
	url    string

	mu     sync.Mutex
	body   io.ReadCloser
	cancel context.CancelFunc
}

func openHTTP(u *url.URL, opts Options) (Source, error) {
	rt := opts.HTTPTransport
	var closer io.Closer
	if rt == nil && u.Scheme == "https" {
		t := &http3.Transport{
			TLSClientConfig: opts.TLSConfig,
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
		rt, closer = t, t
	}
	if rt == nil {
		rt = http.DefaultTransport
	}

	s := &httpSource{
		log:    opts.Log.With("component", "http-source"),
		client: &http.Client{Transport: rt},
		closer: closer,
		url:    u.String(),
	}
	s.init(u.Scheme, s.url)
	if err := s.request(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *httpSource) request() error {
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("source: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("source: GET %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("source: GET %s: %s", s.url, resp.Status)
	}
	s.log.Debug("connected", "url", s.url, "proto", resp.Proto)

	s.mu.Lock()
	old, oldCancel := s.body, s.cancel
	s.body, s.cancel = resp.Body, cancel
	s.mu.Unlock()
	if old != nil {
		oldCancel()
		old.Close()
	}
	return nil
}

func (s *httpSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	body := s.body
	s.mu.Unlock()
	if body == nil {
		return 0, errors.New("source: no active response")
	}
	n, err := body.Read(p)
	if n > 0 {
		s.recordRead(n)
	}
	return n, err
}

func (s *httpSource) Rewind() error {
	if err := s.request(); err != nil {
		return err
	}
	s.recordRewind()
	return nil
}

func (s *httpSource) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *httpSource) Close() error {
	s.mu.Lock()
	body, cancel := s.body, s.cancel
	s.body, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	var err error
	if body != nil {
		err = body.Close()
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
