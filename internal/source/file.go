package source

import (
	"fmt"
	"io"
	"os"
)

type fileSource struct {
	counters
	f *os.File
}

func openFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	s := &fileSource{f: f}
	s.init("file", path)
	return s, nil
}

func (s *fileSource) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	if n > 0 {
		s.recordRead(n)
	}
	return n, err
}

func (s *fileSource) Rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("source: rewind %s: %w", s.location, err)
	}
	s.recordRewind()
	return nil
}

// Interrupt is a no-op: local file reads do not block indefinitely.
func (s *fileSource) Interrupt() {}

func (s *fileSource) Close() error {
	return s.f.Close()
}
