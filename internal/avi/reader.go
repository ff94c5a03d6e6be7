package avi

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrCorrupt reports a chunk whose declared size cannot fit its parent list.
var ErrCorrupt = errors.New("corrupt chunk size")

// maxHeaderList bounds the hdrl list read into memory.
const maxHeaderList = 1 << 20

// Reader yields the data chunks of an AVI stream.
type Reader struct {
	r       *bufio.Reader
	Main    MainHeader
	Streams []Stream
	// moviLeft counts the unread bytes of the movi list.
	moviLeft int64
	hdr      [8]byte
}

// NewReader parses the RIFF header and the hdrl list and positions the
// reader at the first movi chunk.
func NewReader(r io.Reader) (*Reader, error) {
	ar := &Reader{r: bufio.NewReaderSize(r, 64<<10)}

	var riff [12]byte
	if _, err := io.ReadFull(ar.r, riff[:]); err != nil {
		return nil, &Error{Op: "read riff header", Err: err}
	}
	if string(riff[0:4]) != fccRIFF {
		return nil, &Error{Op: "validate riff", Err: errors.New("not a RIFF file")}
	}
	if string(riff[8:12]) != fccAVI {
		return nil, &Error{Op: "validate avi", Err: errors.New("not an AVI file")}
	}

	sawHeader := false
	for {
		id, size, err := ar.readHeader()
		if err != nil {
			return nil, &Error{Op: "read chunk header", Err: err}
		}
		if id != fccLIST {
			if err := ar.skip(align(size)); err != nil {
				return nil, &Error{Op: "skip " + id, Err: err}
			}
			continue
		}
		if size < 4 {
			return nil, &Error{Op: "read list", Err: fmt.Errorf("LIST size %d", size)}
		}
		var listType [4]byte
		if _, err := io.ReadFull(ar.r, listType[:]); err != nil {
			return nil, &Error{Op: "read list type", Err: err}
		}
		switch string(listType[:]) {
		case fccHdrl:
			if size-4 > maxHeaderList {
				return nil, &Error{Op: "read hdrl", Err: fmt.Errorf("%w: hdrl size %d", ErrCorrupt, size)}
			}
			body := make([]byte, align(size-4))
			if _, err := io.ReadFull(ar.r, body); err != nil {
				return nil, &Error{Op: "read hdrl", Err: err}
			}
			if err := ar.parseHdrl(body[:size-4]); err != nil {
				return nil, err
			}
			sawHeader = true
		case fccMovi:
			if !sawHeader {
				return nil, &Error{Op: "read movi", Err: errors.New("movi before hdrl")}
			}
			ar.moviLeft = int64(size - 4)
			return ar, nil
		default:
			if err := ar.skip(align(size - 4)); err != nil {
				return nil, &Error{Op: "skip list", Err: err}
			}
		}
	}
}

// ReadChunk returns the next stream data chunk. It returns io.EOF at the end
// of the movi list; the index that follows is not read. A chunk that
// overruns the movi list is reported once as ErrCorrupt, after which the
// reader is at EOF.
func (ar *Reader) ReadChunk() (*Chunk, error) {
	for {
		if ar.moviLeft < 8 {
			return nil, io.EOF
		}
		id, size, err := ar.readHeader()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, &Error{Op: "read chunk header", Err: err}
		}
		ar.moviLeft -= 8

		if id == fccLIST {
			if size < 4 || int64(size) > ar.moviLeft {
				return nil, ar.corrupt(id, size)
			}
			// rec lists group interleaved chunks; descend into them.
			var listType [4]byte
			if _, err := io.ReadFull(ar.r, listType[:]); err != nil {
				return nil, &Error{Op: "read list type", Err: err}
			}
			ar.moviLeft -= 4
			if string(listType[:]) != fccRec {
				n := min(align(size-4), ar.moviLeft)
				if err := ar.skip(n); err != nil {
					return nil, &Error{Op: "skip list", Err: err}
				}
				ar.moviLeft -= n
			}
			continue
		}

		if int64(size) > ar.moviLeft {
			return nil, ar.corrupt(id, size)
		}
		padded := min(align(size), ar.moviLeft)
		stream, kind, ok := parseChunkID(fourCC(id))
		if !ok || stream >= len(ar.Streams) {
			if err := ar.skip(padded); err != nil {
				return nil, &Error{Op: "skip " + id, Err: err}
			}
			ar.moviLeft -= padded
			continue
		}

		data := make([]byte, padded)
		if _, err := io.ReadFull(ar.r, data); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, &Error{Op: "read chunk", Err: err}
		}
		ar.moviLeft -= padded
		return &Chunk{StreamIndex: stream, Kind: kind, Data: data[:size]}, nil
	}
}

// corrupt ends the movi list and reports the chunk that overran it.
func (ar *Reader) corrupt(id string, size uint32) error {
	left := ar.moviLeft
	ar.moviLeft = 0
	return &Error{Op: "read " + id, Err: fmt.Errorf("%w: %d bytes with %d left in movi", ErrCorrupt, size, left)}
}

func (ar *Reader) readHeader() (string, uint32, error) {
	if _, err := io.ReadFull(ar.r, ar.hdr[:]); err != nil {
		return "", 0, err
	}
	return string(ar.hdr[:4]), le.Uint32(ar.hdr[4:]), nil
}

func (ar *Reader) skip(n int64) error {
	_, err := io.CopyN(io.Discard, ar.r, n)
	return err
}

func (ar *Reader) parseHdrl(body []byte) error {
	for len(body) >= 8 {
		id := string(body[:4])
		size := le.Uint32(body[4:8])
		if int64(size) > int64(len(body)-8) {
			return &Error{Op: "parse hdrl", Err: fmt.Errorf("chunk %q overruns list", id)}
		}
		data := body[8 : 8+size]
		switch {
		case id == fccAvih:
			if err := binary.Read(bytes.NewReader(data), le, &ar.Main); err != nil {
				return &Error{Op: "read avih", Err: err}
			}
		case id == fccLIST && size >= 4 && string(data[:4]) == fccStrl:
			s, err := parseStrl(data[4:])
			if err != nil {
				return err
			}
			s.Index = len(ar.Streams)
			ar.Streams = append(ar.Streams, s)
		}
		next := 8 + int(align(size))
		if next > len(body) {
			break
		}
		body = body[next:]
	}
	if len(ar.Streams) == 0 {
		return &Error{Op: "parse hdrl", Err: errors.New("no streams")}
	}
	return nil
}

func parseStrl(body []byte) (Stream, error) {
	var s Stream
	var format []byte
	sawHeader := false
	for len(body) >= 8 {
		id := string(body[:4])
		size := le.Uint32(body[4:8])
		if int64(size) > int64(len(body)-8) {
			return s, &Error{Op: "parse strl", Err: fmt.Errorf("chunk %q overruns list", id)}
		}
		data := body[8 : 8+size]
		switch id {
		case fccStrh:
			if len(data) < streamHeaderSize-8 {
				return s, &Error{Op: "read strh", Err: fmt.Errorf("strh size %d", len(data))}
			}
			// Some writers omit the rcFrame rectangle.
			full := make([]byte, streamHeaderSize)
			copy(full, data)
			if err := binary.Read(bytes.NewReader(full), le, &s.Header); err != nil {
				return s, &Error{Op: "read strh", Err: err}
			}
			sawHeader = true
		case fccStrf:
			format = append([]byte(nil), data...)
		}
		next := 8 + int(align(size))
		if next > len(body) {
			break
		}
		body = body[next:]
	}
	if !sawHeader {
		return s, &Error{Op: "parse strl", Err: errors.New("missing strh")}
	}
	s.Format = format

	switch s.Type() {
	case TypeVideo:
		if len(format) >= bitmapInfoSize {
			var bi BitmapInfo
			if err := binary.Read(bytes.NewReader(format), le, &bi); err != nil {
				return s, &Error{Op: "read strf", Err: err}
			}
			s.Video = &bi
		}
	case TypeAudio:
		if len(format) >= waveFormatSize {
			var wf WaveFormat
			if err := binary.Read(bytes.NewReader(format), le, &wf); err != nil {
				return s, &Error{Op: "read strf", Err: err}
			}
			s.Audio = &wf
		}
	}
	return s, nil
}
