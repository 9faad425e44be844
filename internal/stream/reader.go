package stream

import (
	"bufio"
	"bytes"
	"io"
)

// MaxLineSize bounds a single event-stream line.
const MaxLineSize = 1 << 20

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// Reader yields the payload of each "data:" line of an event stream. Other
// lines (event names, comments, blanks) are skipped.
type Reader struct {
	scanner *bufio.Scanner
	done    bool
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next data payload. It returns io.EOF at the end of the
// stream or after a [DONE] sentinel.
func (r *Reader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			continue
		}
		if bytes.Equal(payload, doneMarker) {
			r.done = true
			return nil, io.EOF
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	r.done = true
	return nil, io.EOF
}
