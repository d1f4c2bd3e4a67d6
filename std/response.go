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
	"fmt"
	"io"
)

// canned holds the pre-written response for every status the server emits.
// The body is the reason phrase followed by a newline.
var canned = map[int]struct {
	reason string
	body   string
}{
	200: {"OK", "OK\n"},
	201: {"Created", "Created\n"},
	400: {"Bad Request", "Bad Request\n"},
	403: {"Forbidden", "Forbidden\n"},
	404: {"Not Found", "Not Found\n"},
	500: {"Internal Server Error", "Internal Server Error\n"},
	501: {"Not Implemented", "Not Implemented\n"},
	505: {"Version Not Supported", "Version Not Supported\n"},
}

// StatusReason returns the reason phrase for a status code. Codes the server
// never emits collapse to 500.
func StatusReason(status int) string {
	c, ok := canned[status]
	if !ok {
		c = canned[500]
	}
	return c.reason
}

// Respond writes the canned response for status:
//
//	HTTP/1.1 <code> <reason>\r\n
//	Content-Length: <n>\r\n
//	\r\n
//	<body>
//
// Unknown status codes are written as 500.
func Respond(w io.Writer, status int) error {
	c, ok := canned[status]
	if !ok {
		status = 500
		c = canned[500]
	}

	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: %d\r\n\r\n%s",
		status, c.reason, len(c.body), c.body)
	return err
}

// WriteOKHeader writes the response head of a streamed 200: the status line
// and a Content-Length of size, terminated by the blank line. The caller
// streams the body afterwards.
func WriteOKHeader(w io.Writer, size int64) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", size)
	return err
}
