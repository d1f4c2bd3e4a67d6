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

package main

import (
	"errors"
	"log"
	"os"
	"syscall"

	"github.com/SebbyLaw/httpserver/std"
)

// response reports what the handler decided: the status, and whether the
// bytes already went out on the socket (a streamed GET writes its own head).
type response struct {
	sent   bool
	status int
}

// handle runs one dequeued request to completion: parse, dispatch, respond,
// drain, close.
func (srv *Server) handle(req *std.Request) {
	resp := srv.handleConnection(req)

	if !resp.sent {
		std.Respond(req.Conn(), resp.status)
	}
	std.DefaultStats.AddStatus(resp.status)

	req.Drain()
	req.Close()
}

// handleConnection validates the request and routes it under the proper
// per-URI lock. The audit line is written while the lock is still held, so
// audit order on a URI is the order of the operations' effects.
func (srv *Server) handleConnection(req *std.Request) response {
	if err := req.Parse(); err != nil {
		if !srv.quiet {
			log.Println("parse:", err)
		}
		return response{status: 400}
	}

	if req.Method() == std.UNSUPPORTED {
		return response{status: 501}
	}
	if major, minor := req.Version(); major != '1' || minor != '1' {
		return response{status: 505}
	}
	if req.Method() == std.GET && len(req.Body()) > 0 {
		return response{status: 400}
	}

	requestID, ok := req.Header("Request-Id")
	if !ok {
		return response{status: 400}
	}

	uri := req.URI()
	lock, err := srv.locks.acquire(uri)
	if err != nil {
		log.Printf("%+v\n", err)
		return response{status: 500}
	}

	var resp response
	switch req.Method() {
	case std.GET:
		std.DefaultStats.AddGet()
		lock.lock.ReaderLock()
		resp = handleGet(req)
		srv.audit.Log(std.GET, uri, resp.status, requestID)
		lock.lock.ReaderUnlock()
	case std.PUT:
		std.DefaultStats.AddPut()
		lock.lock.WriterLock()
		resp = handlePut(req)
		srv.audit.Log(std.PUT, uri, resp.status, requestID)
		lock.lock.WriterUnlock()
	}
	srv.locks.release(lock)

	return resp
}

// handleGet streams the file at the request URI to the client. Once the
// response head goes out the response counts as sent no matter how the body
// stream fares.
func handleGet(req *std.Request) response {
	f, err := os.Open(req.URI())
	if err != nil {
		return response{status: openStatusGet(err)}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return response{status: statStatus(err)}
	}

	if st.IsDir() {
		// directories are never served
		return response{status: 403}
	}

	conn := req.Conn()
	if err := std.WriteOKHeader(conn, st.Size()); err != nil {
		// transport failure, nothing further can be sent
		return response{sent: true, status: 200}
	}

	n, _ := std.CopyN(conn, f, st.Size())
	std.DefaultStats.AddBytesWritten(n)

	return response{sent: true, status: 200}
}

// handlePut writes the request body to the file at the URI, creating it when
// absent. A body shorter than Content-Length rolls the file back: removed
// when this request created it, truncated otherwise.
func handlePut(req *std.Request) response {
	contentLength := req.ContentLength()
	if contentLength < 0 {
		// missing or malformed Content-Length
		return response{status: 400}
	}

	uri := req.URI()
	created := false

	f, err := os.OpenFile(uri, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		status := openStatusPut(err)
		if status != 404 {
			return response{status: status}
		}

		// file doesn't exist, create it
		f, err = os.OpenFile(uri, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
		if err != nil {
			return response{status: openStatusPut(err)}
		}
		created = true
	}

	status := 200
	if created {
		status = 201
	}

	if contentLength == 0 {
		// no content to write, we're just done here
		f.Close()
		return response{status: status}
	}

	rollback := func() {
		f.Close()
		if created {
			os.Remove(uri)
		} else {
			os.Truncate(uri, 0)
		}
	}

	var written int64

	// write the part of the body that arrived with the head
	if body := req.Body(); len(body) > 0 {
		if int64(len(body)) > contentLength {
			body = body[:contentLength]
		}
		n, err := f.Write(body)
		written += int64(n)
		if err != nil {
			rollback()
			return response{status: 500}
		}
	}

	// stream the rest of the body from the socket
	if written < contentLength {
		n, err := std.CopyN(f, req.Conn(), contentLength-written)
		written += n
		if err != nil || written < contentLength {
			// the client sent fewer bytes than it promised
			rollback()
			return response{status: 400}
		}
	}
	std.DefaultStats.AddBytesRead(written)

	f.Close()
	return response{status: status}
}

// openStatusGet maps an open error for GET.
func openStatusGet(err error) int {
	switch errno(err) {
	case syscall.EACCES, syscall.ENAMETOOLONG, syscall.EPERM, syscall.EROFS:
		return 403
	case syscall.ENOENT:
		return 404
	default:
		return 500
	}
}

// statStatus maps a stat error after a successful open.
func statStatus(err error) int {
	switch errno(err) {
	case syscall.EACCES, syscall.EBADF, syscall.EFAULT:
		return 403
	case syscall.ENOENT:
		return 404
	default:
		return 500
	}
}

// openStatusPut maps an open error for PUT; 404 tells the caller to create
// the file.
func openStatusPut(err error) int {
	switch errno(err) {
	case syscall.EISDIR, syscall.EACCES, syscall.ENAMETOOLONG, syscall.EPERM, syscall.EROFS:
		return 403
	case syscall.ENOENT:
		return 404
	default:
		return 500
	}
}

func errno(err error) syscall.Errno {
	var e syscall.Errno
	if errors.As(err, &e) {
		return e
	}
	return 0
}
