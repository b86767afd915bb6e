package jsonrpc

import (
	"bytes"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want Kind
	}{
		{"response", Message{ID: []byte("1")}, KindResponse},
		{"notification", Message{Method: "session/update"}, KindNotification},
		{"request", Message{ID: []byte(`"x"`), Method: "session/request_permission"}, KindRequest},
		{"unknown", Message{}, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.msg); got != tc.want {
				t.Errorf("Classify(%+v) = %v, want %v", tc.msg, got, tc.want)
			}
		})
	}
}

func TestWriteLine_OneDocumentPerLine(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteLine(&buf, Request{JSONRPC: "2.0", ID: 1, Method: "initialize"}); err != nil {
		t.Fatalf("WriteLine failed: %v", err)
	}
	if err := WriteLine(&buf, Request{JSONRPC: "2.0", ID: 2, Method: "session/new"}); err != nil {
		t.Fatalf("WriteLine failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"initialize"`) || !strings.Contains(lines[1], `"session/new"`) {
		t.Fatalf("unexpected line contents: %v", lines)
	}
}

func TestLineReader_SkipsEmptyAndMalformedLines(t *testing.T) {
	input := "\n" + "not json\n" + `{"jsonrpc":"2.0","id":1,"result":{}}` + "\n"
	lr := NewLineReader(strings.NewReader(input), nil)

	msg, err := lr.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if Classify(msg) != KindResponse {
		t.Fatalf("expected the response to be the first successfully parsed message, got kind %v", Classify(msg))
	}
}

func TestLineReader_EOF(t *testing.T) {
	lr := NewLineReader(strings.NewReader(""), nil)
	_, err := lr.ReadMessage()
	if err == nil {
		t.Fatal("expected EOF on empty input")
	}
}
