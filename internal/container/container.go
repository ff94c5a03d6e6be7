// Package container turns a byte source into the packets of one audio and
// one video elementary stream. MPEG-TS and AVI are recognised by their
// leading bytes.
package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/cadence/internal/media"
)

// ErrUnknownFormat is returned by Open when the leading bytes match no
// supported container.
var ErrUnknownFormat = errors.New("container: unrecognised format")

// Source is the byte stream a container reads. source.Source satisfies it.
type Source interface {
	io.Reader
	Rewind() error
	Close() error
}

// Container yields packets for at most one audio and one video stream.
type Container interface {
	// Format names the container ("mpegts", "avi").
	Format() string
	// Streams describes the selected streams, video first.
	Streams() []media.StreamInfo
	// ReadPacket returns the next packet of a selected stream, or io.EOF.
	ReadPacket() (*media.Packet, error)
	// Rewind restarts reading from the beginning of the source.
	Rewind() error
	// Close releases the container and its source.
	Close() error
}

// Options configures Open.
type Options struct {
	Log *slog.Logger
	// ProbePackets bounds how many TS packets are read looking for the
	// program tables and first payloads (default 20000, about 3.7 MB).
	ProbePackets int64
}

const defaultProbePackets = 20000

// Open probes src and returns a reader for its container format. On error
// src is left open for the caller to close.
func Open(src Source, opts Options) (Container, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.ProbePackets <= 0 {
		opts.ProbePackets = defaultProbePackets
	}

	head := make([]byte, 12)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("container: empty source: %w", ErrUnknownFormat)
		}
		return nil, fmt.Errorf("container: read header: %w", err)
	}
	head = head[:n]
	r := io.MultiReader(bytes.NewReader(head), src)

	switch {
	case len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "AVI ":
		return openAVI(src, r, opts)
	case len(head) > 0 && head[0] == 0x47:
		return openTS(src, r, 188, opts)
	case len(head) > 4 && head[4] == 0x47:
		// M2TS: 4-byte timecode ahead of every packet.
		return openTS(src, r, 192, opts)
	}
	return nil, ErrUnknownFormat
}
