package provider

import (
	"bufio"
	"io"
	"strings"
)

// eventStream splits a text/event-stream body into events. Only the event
// name and data matter to the adapters here; ids and retry hints are dropped.
type eventStream struct {
	scanner *bufio.Scanner
}

func newEventStream(r io.Reader) *eventStream {
	sc := bufio.NewScanner(r)
	// Vendor deltas are small but error frames can carry whole documents
	sc.Buffer(make([]byte, 0, 16*1024), 1024*1024)
	return &eventStream{scanner: sc}
}

// Next returns the name and data of the next event with a non-empty data
// payload. Multi-line data fields are joined with newlines per the SSE
// framing rules. io.EOF signals the end of the body.
func (s *eventStream) Next() (name, data string, err error) {
	var payload strings.Builder
	for s.scanner.Scan() {
		line := strings.TrimSuffix(s.scanner.Text(), "\r")

		if line == "" {
			if payload.Len() > 0 {
				return name, payload.String(), nil
			}
			name = ""
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "":
			// keep-alive comment line
		case "event":
			name = value
		case "data":
			if payload.Len() > 0 {
				payload.WriteByte('\n')
			}
			payload.WriteString(value)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", "", err
	}
	return "", "", io.EOF
}
