package std

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
)

// send stages a raw request on one end of a pipe and returns a Request
// wrapping the other end. With closeAfter set the client end closes once the
// bytes are consumed, so a parse that needs more data fails instead of
// blocking.
func send(t *testing.T, raw string, closeAfter bool) *Request {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	go func() {
		client.Write([]byte(raw))
		if closeAfter {
			client.Close()
		}
	}()

	return NewRequest(server)
}

func TestParseGet(t *testing.T) {
	req := send(t, "GET /a HTTP/1.1\r\nRequest-Id: 1\r\n\r\n", false)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if req.Method() != GET {
		t.Fatalf("method = %v, want GET", req.Method())
	}
	if req.URI() != "a" {
		t.Fatalf("uri = %q, want %q", req.URI(), "a")
	}
	if major, minor := req.Version(); major != '1' || minor != '1' {
		t.Fatalf("version = %c.%c, want 1.1", major, minor)
	}
	if v, ok := req.Header("Request-Id"); !ok || v != "1" {
		t.Fatalf("Request-Id = %q, %v", v, ok)
	}
	if len(req.Body()) != 0 {
		t.Fatalf("unexpected body prefix: %q", req.Body())
	}
}

func TestParseMethodCaseInsensitive(t *testing.T) {
	req := send(t, "get /a HTTP/1.1\r\n\r\n", false)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if req.Method() != GET {
		t.Fatalf("method = %v, want GET", req.Method())
	}

	req = send(t, "DELETE /a HTTP/1.1\r\n\r\n", false)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if req.Method() != UNSUPPORTED {
		t.Fatalf("method = %v, want UNSUPPORTED", req.Method())
	}
}

func TestParsePutBodyPrefix(t *testing.T) {
	req := send(t, "PUT /b HTTP/1.1\r\nRequest-Id: 2\r\nContent-Length: 3\r\n\r\nxyz", false)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if req.Method() != PUT {
		t.Fatalf("method = %v, want PUT", req.Method())
	}
	if got := req.ContentLength(); got != 3 {
		t.Fatalf("ContentLength = %d, want 3", got)
	}
	if !bytes.Equal(req.Body(), []byte("xyz")) {
		t.Fatalf("body prefix = %q, want %q", req.Body(), "xyz")
	}
}

func TestParseMultipleHeaders(t *testing.T) {
	req := send(t, "GET /a HTTP/1.1\r\nRequest-Id: 9\r\nHost: localhost\r\nAccept: */*\r\n\r\n", false)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	headers := req.Headers()
	if len(headers) != 3 {
		t.Fatalf("got %d headers, want 3", len(headers))
	}
	if headers[1].Key != "Host" || headers[1].Value != "localhost" {
		t.Fatalf("headers out of order: %+v", headers)
	}
	if v, ok := req.Header("request-id"); !ok || v != "9" {
		t.Fatalf("case-insensitive header lookup failed: %q, %v", v, ok)
	}
}

func TestBodyRoundTrip(t *testing.T) {
	const body = "xyzABC"
	head := "PUT /r HTTP/1.1\r\nContent-Length: 6\r\n\r\n"

	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	go func() {
		client.Write([]byte(head + body[:3]))
		client.Write([]byte(body[3:]))
	}()

	req := NewRequest(server)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	prefix := req.Body()
	if string(prefix) != "xyz" {
		t.Fatalf("body prefix = %q, want %q", prefix, "xyz")
	}

	// the prefix concatenated with the unread tail is the original body
	tail := make([]byte, int(req.ContentLength())-len(prefix))
	if _, err := io.ReadFull(req.Conn(), tail); err != nil {
		t.Fatalf("reading body tail: %v", err)
	}
	if got := string(prefix) + string(tail); got != body {
		t.Fatalf("reassembled body = %q, want %q", got, body)
	}
}

func TestParseRejectsLongMethod(t *testing.T) {
	req := send(t, "ABCDEFGHIJ /a HTTP/1.1\r\n\r\n", false)
	if err := req.Parse(); err == nil {
		t.Fatal("Parse accepted a method longer than 8 characters")
	}
}

func TestParseRejectsBadURI(t *testing.T) {
	req := send(t, "GET a HTTP/1.1\r\n\r\n", true)
	if err := req.Parse(); err == nil {
		t.Fatal("Parse accepted a URI without a leading slash")
	}

	req = send(t, "GET /"+strings.Repeat("a", 64)+" HTTP/1.1\r\n\r\n", true)
	if err := req.Parse(); err == nil {
		t.Fatal("Parse accepted a URI longer than 63 characters")
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	req := send(t, "GET /a HTTP/11\r\n\r\n", true)
	if err := req.Parse(); err == nil {
		t.Fatal("Parse accepted a malformed version")
	}
}

func TestParseAcceptsOtherVersions(t *testing.T) {
	req := send(t, "GET /a HTTP/1.0\r\n\r\n", false)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if major, minor := req.Version(); major != '1' || minor != '0' {
		t.Fatalf("version = %c.%c, want 1.0", major, minor)
	}
}

func TestParseRejectsSegmentedHeaders(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	// the header block gets one top-up read; a client that trickles the
	// terminator in a third segment is a bad request
	go func() {
		client.Write([]byte("GET /a HTTP/1.1\r\n"))
		client.Write([]byte("Request-Id: 1\r\n"))
		client.Write([]byte("\r\n"))
	}()

	req := NewRequest(server)
	if err := req.Parse(); err == nil {
		t.Fatal("Parse accepted headers still in flight after the top-up read")
	}
}

func TestParseRejectsMalformedHeader(t *testing.T) {
	req := send(t, "GET /a HTTP/1.1\r\nBad Header\r\n\r\n", true)
	if err := req.Parse(); err == nil {
		t.Fatal("Parse accepted a header without a colon")
	}
}

func TestParseRejectsOversizedRequest(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET /a HTTP/1.1\r\n")
	for i := 0; i < 20; i++ {
		b.WriteString("X-Filler: ")
		b.WriteString(strings.Repeat("y", 120))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	req := send(t, b.String(), true)
	if err := req.Parse(); err == nil {
		t.Fatal("Parse accepted a request larger than the cap")
	}
}

func TestParseRejectsTruncatedRequest(t *testing.T) {
	req := send(t, "GET /a HT", true)
	if err := req.Parse(); err == nil {
		t.Fatal("Parse accepted a truncated request")
	}
}

func TestContentLength(t *testing.T) {
	cases := []struct {
		value string
		want  int64
	}{
		{"123", 123},
		{"0", 0},
		{"abc", -2},
		{"12 3", -2},
		{"-5", -2},
		{"9999999999999999999999999", -2},
	}

	for _, c := range cases {
		req := send(t, "PUT /b HTTP/1.1\r\nContent-Length: "+c.value+"\r\n\r\n", false)
		if err := req.Parse(); err != nil {
			t.Fatalf("Parse(%q) returned error: %v", c.value, err)
		}
		if got := req.ContentLength(); got != c.want {
			t.Fatalf("ContentLength(%q) = %d, want %d", c.value, got, c.want)
		}
	}

	req := send(t, "PUT /b HTTP/1.1\r\n\r\n", false)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if got := req.ContentLength(); got != -1 {
		t.Fatalf("ContentLength without header = %d, want -1", got)
	}
}

func TestDrainAfterClientClose(t *testing.T) {
	req := send(t, "GET /a HTTP/1.1\r\n\r\n", true)
	if err := req.Parse(); err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	// must return promptly once the peer is gone
	req.Drain()
	if err := req.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}
