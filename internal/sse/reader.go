package sse

import (
	"bufio"
	"io"
	"strings"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineLength     = 1024 * 1024
)

// Reader pulls frames out of a byte stream.
type Reader struct {
	scanner *bufio.Scanner
	dec     *Decoder
}

func NewReader(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, initialLineBuffer), maxLineLength)
	return &Reader{scanner: scanner, dec: NewDecoder()}
}

// Next blocks until a frame is terminated on the wire.
//
// It returns io.EOF once the source is exhausted cleanly. A frame still being
// assembled at that point is dropped. Any other error is the read error of the
// underlying stream.
func (r *Reader) Next() (Frame, error) {
	for r.scanner.Scan() {
		// bufio.ScanLines strips "\n" and a trailing "\r".
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if f, ok := r.dec.Feed(line); ok {
			return f, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	r.dec.Reset()
	return Frame{}, io.EOF
}
