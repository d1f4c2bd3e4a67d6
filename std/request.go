// The MIT License (MIT)
//
// # Copyright (c) 2024 Sebastian Law
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package std

import (
	"math"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ReqMaxSize is the maximum number of request bytes read from a connection:
// the request line, all headers, and any buffered body prefix together.
const ReqMaxSize = 2048

// bufExtra pads the input buffer past ReqMaxSize. The spill region is never
// parsed; it only gives Drain somewhere to read into.
const bufExtra = 256

// drainTimeout bounds the best-effort read in Drain.
const drainTimeout = 500 * time.Millisecond

// Method is the HTTP method of a request.
type Method int

const (
	GET Method = iota
	PUT
	UNSUPPORTED
)

func (m Method) String() string {
	switch m {
	case GET:
		return "GET"
	case PUT:
		return "PUT"
	}
	return "UNSUPPORTED"
}

// Header is a single key/value pair from the request head.
type Header struct {
	Key   string
	Value string
}

// The parse patterns are compiled once at startup; every Request shares the
// same handles.
//
// Chunk lengths bound how many bytes each anchored pattern may need before a
// non-match is final: method is at most 8 characters plus the trailing
// space, the URI at most 64 plus the space, the version exactly HTTP/#.#
// followed by CRLF.
const (
	methodChunkLen  = 9
	uriChunkLen     = 65
	versionChunkLen = 11
)

var (
	methodPattern  = regexp.MustCompile(`^([a-zA-Z]{1,8}) `)
	uriPattern     = regexp.MustCompile(`^/([a-zA-Z0-9.\-]{1,63}) `)
	versionPattern = regexp.MustCompile(`^HTTP/([0-9])\.([0-9])\r\n`)
	headersPattern = regexp.MustCompile(`^([a-zA-Z0-9.\-]{1,128}: [ -~]{1,128}\r\n)*\r\n`)
	headerPattern  = regexp.MustCompile(`^([a-zA-Z0-9.\-]{1,128}): ([ -~]{1,128})\r\n`)
)

// Request owns one connected socket and the input buffer its head is parsed
// from. A Request reads at most ReqMaxSize bytes from the connection; the
// portion of the body that arrives while the head is being parsed stays in
// the buffer and is exposed by Body without copying.
type Request struct {
	conn net.Conn

	buf [ReqMaxSize + bufExtra]byte
	// parse cursor, the position parsing continues from
	pc int
	// write cursor, the position socket reads land at
	wc int

	method   Method
	uri      string
	verMajor byte
	verMinor byte
	headers  []Header

	// body prefix, aliasing buf; nil when no body bytes were buffered
	body []byte
}

// NewRequest wraps a connected socket. The caller keeps ownership of the
// connection's lifetime through Drain and Close.
func NewRequest(conn net.Conn) *Request {
	return &Request{conn: conn, method: UNSUPPORTED}
}

// readMore pulls whatever is available from the socket into the input
// buffer. It fails once the request cap is reached or the socket yields no
// further bytes.
func (req *Request) readMore() error {
	if req.wc >= ReqMaxSize {
		return errors.New("request exceeds maximum size")
	}

	n, err := req.conn.Read(req.buf[req.wc:ReqMaxSize])
	if n > 0 {
		req.wc += n
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read request")
	}
	return errors.New("read request: connection made no progress")
}

// matchChunk matches an anchored pattern against the unparsed region,
// reading more from the socket until the pattern matches or the full chunk
// is present without matching. Only the bounded request-line phases use it;
// the headers phase reads once and matches once.
func (req *Request) matchChunk(re *regexp.Regexp, chunkLen int) ([]int, error) {
	for {
		region := req.buf[req.pc:req.wc]
		if m := re.FindSubmatchIndex(region); m != nil {
			return m, nil
		}
		if len(region) >= chunkLen {
			// the full chunk is present and still does not match
			return nil, errors.Errorf("malformed request near byte %d", req.pc)
		}
		if err := req.readMore(); err != nil {
			return nil, err
		}
	}
}

func (req *Request) parseMethod() error {
	m, err := req.matchChunk(methodPattern, methodChunkLen)
	if err != nil {
		return err
	}

	method := string(req.buf[req.pc+m[2] : req.pc+m[3]])
	switch {
	case strings.EqualFold(method, "GET"):
		req.method = GET
	case strings.EqualFold(method, "PUT"):
		req.method = PUT
	default:
		req.method = UNSUPPORTED
	}

	req.pc += m[1]
	return nil
}

func (req *Request) parseURI() error {
	m, err := req.matchChunk(uriPattern, uriChunkLen)
	if err != nil {
		return err
	}

	// stored without the leading slash
	req.uri = string(req.buf[req.pc+m[2] : req.pc+m[3]])

	req.pc += m[1]
	return nil
}

func (req *Request) parseVersion() error {
	m, err := req.matchChunk(versionPattern, versionChunkLen)
	if err != nil {
		return err
	}

	req.verMajor = req.buf[req.pc+m[2]]
	req.verMinor = req.buf[req.pc+m[4]]

	req.pc += m[1]
	return nil
}

func (req *Request) parseHeaders() error {
	// The header block must be complete in what has arrived by now: at most
	// one greedy read tops the buffer up, then the pattern matches once.
	// Headers still in flight on the wire are a bad request, not a reason to
	// block on the socket again.
	m := headersPattern.FindSubmatchIndex(req.buf[req.pc:req.wc])
	if m == nil && req.wc < ReqMaxSize {
		if n, _ := req.conn.Read(req.buf[req.wc:ReqMaxSize]); n > 0 {
			req.wc += n
		}
		m = headersPattern.FindSubmatchIndex(req.buf[req.pc:req.wc])
	}
	if m == nil {
		return errors.Errorf("incomplete or malformed headers near byte %d", req.pc)
	}

	// end of the whole match, past the terminating blank line
	matchEnd := req.pc + m[1]
	hdrEnd := matchEnd - 2

	for req.pc < hdrEnd {
		hm := headerPattern.FindSubmatchIndex(req.buf[req.pc:hdrEnd])
		if hm == nil {
			// the list pattern matched, so every line must too
			return errors.Errorf("malformed header near byte %d", req.pc)
		}

		req.headers = append(req.headers, Header{
			Key:   string(req.buf[req.pc+hm[2] : req.pc+hm[3]]),
			Value: string(req.buf[req.pc+hm[4] : req.pc+hm[5]]),
		})

		req.pc += hm[1]
	}

	req.pc = matchEnd
	return nil
}

func (req *Request) parseBody() {
	if req.wc > req.pc {
		req.body = req.buf[req.pc:req.wc]
	}
	req.pc = req.wc
}

// Parse reads and parses the request head from the socket: method, URI,
// version, then headers. Whatever body bytes were read alongside the head
// remain available through Body. Parse fails on any malformed phase, on a
// socket error, and when the request head does not fit in ReqMaxSize bytes;
// body bytes past that cap are left unread on the connection.
func (req *Request) Parse() error {
	if err := req.parseMethod(); err != nil {
		return err
	}
	if err := req.parseURI(); err != nil {
		return err
	}
	if err := req.parseVersion(); err != nil {
		return err
	}
	if err := req.parseHeaders(); err != nil {
		return err
	}
	req.parseBody()
	return nil
}

// Conn returns the underlying connection.
func (req *Request) Conn() net.Conn {
	return req.conn
}

// Method returns the parsed method.
func (req *Request) Method() Method {
	return req.method
}

// URI returns the parsed URI without its leading slash.
func (req *Request) URI() string {
	return req.uri
}

// Version returns the HTTP major and minor version digits.
func (req *Request) Version() (major, minor byte) {
	return req.verMajor, req.verMinor
}

// Headers returns the parsed headers in request order.
func (req *Request) Headers() []Header {
	return req.headers
}

// Header returns the value of the first header whose key matches,
// case-insensitively.
func (req *Request) Header(key string) (string, bool) {
	for i := range req.headers {
		if strings.EqualFold(req.headers[i].Key, key) {
			return req.headers[i].Value, true
		}
	}
	return "", false
}

// ContentLength parses the Content-Length header.
// It returns -1 when the header is absent and -2 when the value is not a
// plain decimal number or is too large for an int64.
func (req *Request) ContentLength() int64 {
	v, ok := req.Header("Content-Length")
	if !ok {
		return -1
	}

	var n int64
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < '0' || c > '9' {
			return -2
		}
		if n > (math.MaxInt64-9)/10 {
			return -2
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

// Body returns the body prefix: the body bytes that were already buffered
// when head parsing ended. The slice aliases the request's input buffer and
// stays valid for the request's lifetime. Bytes beyond the prefix must be
// read from Conn.
func (req *Request) Body() []byte {
	return req.body
}

// Drain performs one short, best-effort read into the buffer's spill region
// so the client can finish reading the response before the connection goes
// away. Call it right before Close.
func (req *Request) Drain() {
	req.conn.SetReadDeadline(time.Now().Add(drainTimeout))
	req.conn.Read(req.buf[req.wc : req.wc+bufExtra])
}

// Close closes the underlying connection.
func (req *Request) Close() error {
	return req.conn.Close()
}
