package provider

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEventStream(t *testing.T) {
	body := ": keep-alive\r\n" +
		"event: content_block_delta\r\n" +
		"data: {\"delta\":1}\r\n" +
		"\r\n" +
		"data: line one\n" +
		"data: line two\n" +
		"\n" +
		"event: named_but_empty\n" +
		"\n" +
		"data: [DONE]\n" +
		"\n"

	stream := newEventStream(strings.NewReader(body))

	name, data, err := stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if name != "content_block_delta" || data != `{"delta":1}` {
		t.Errorf("first event = %q %q", name, data)
	}

	name, data, err = stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if name != "" {
		t.Errorf("event name should reset between events, got %q", name)
	}
	if data != "line one\nline two" {
		t.Errorf("multi-line data = %q", data)
	}

	// the dataless event is skipped entirely
	_, data, err = stream.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if data != "[DONE]" {
		t.Errorf("data = %q, want [DONE]", data)
	}

	if _, _, err := stream.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("exhausted stream should return io.EOF, got %v", err)
	}
}
