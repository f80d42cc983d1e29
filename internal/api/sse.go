package api

import (
	"bufio"
	"io"
	"strings"
)

// sseFrame is one server-sent event: an optional event name and the joined
// data lines.
type sseFrame struct {
	Event string
	Data  string
}

// sseReader scans text/event-stream bodies frame by frame. Both the chat
// stream and the push channel speak this format.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: sc}
}

// Next returns the next complete frame, or io.EOF when the stream ends.
func (r *sseReader) Next() (sseFrame, error) {
	var frame sseFrame
	var data []string
	seen := false
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if seen {
				frame.Data = strings.Join(data, "\n")
				return frame, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") { // comment / keepalive
			continue
		}
		seen = true
		switch {
		case strings.HasPrefix(line, "event:"):
			frame.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := r.scanner.Err(); err != nil {
		return sseFrame{}, err
	}
	if seen {
		frame.Data = strings.Join(data, "\n")
		return frame, nil
	}
	return sseFrame{}, io.EOF
}
