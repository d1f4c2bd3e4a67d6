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
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/SebbyLaw/httpserver/queue"
	"github.com/SebbyLaw/httpserver/std"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

// Server owns all process-wide state: the listener, the dispatch queue, the
// worker pool, the per-URI lock table, and the audit sink. Everything is
// initialized before the accept loop starts and torn down after the workers
// join.
type Server struct {
	listener net.Listener
	queue    *queue.Queue[*std.Request]
	locks    *lockTable
	audit    *std.Sink

	threads int
	quiet   bool
	running atomic.Bool

	wg sync.WaitGroup
}

func main() {
	if VERSION == "SELFBUILD" {
		// Enable timestamps + file:line to simplify debugging self-built binaries.
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "httpserver"
	myApp.Usage = "concurrent HTTP/1.1 file server"
	myApp.UsageText = "httpserver [-t threads] <port>"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "threads, t",
			Value: 4,
			Usage: "number of worker threads",
		},
		cli.StringFlag{
			Name:  "audit",
			Value: "",
			Usage: "append the audit log to a file, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "auditcomp",
			Usage: "snappy-compress the audit log file",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect request counters to file, aware of timeformat in golang, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress per-request log messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when set, the JSON file must exist on disk
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Threads = c.Int("threads")
		config.Audit = c.String("audit")
		config.AuditComp = c.Bool("auditcomp")
		config.StatsLog = c.String("statslog")
		config.StatsPeriod = c.Int("statsperiod")
		config.Log = c.String("log")
		config.Pprof = c.Bool("pprof")
		config.Quiet = c.Bool("quiet")

		if !c.Args().Present() {
			fmt.Fprintf(os.Stderr, "Usage: %s\n", myApp.UsageText)
			os.Exit(1)
		}

		rawPort := c.Args().First()
		port, err := strconv.Atoi(rawPort)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid port: %s\n", rawPort)
			os.Exit(1)
		}
		config.Port = port

		if c.String("c") != "" {
			// Only JSON configuration files are supported at the moment.
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		// make sure the port is in the valid range
		if config.Port < 1 || config.Port > 65535 {
			fmt.Fprintf(os.Stderr, "Invalid port: %d\n", config.Port)
			os.Exit(1)
		}

		if config.Threads < 1 {
			fmt.Fprintf(os.Stderr, "Invalid thread count: %d\n", config.Threads)
			os.Exit(1)
		}

		// Redirect logs when the user supplied a dedicated log file.
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		log.Println("version:", VERSION)
		log.Println("port:", config.Port)
		log.Println("threads:", config.Threads)
		log.Println("audit:", config.Audit)
		log.Println("auditcomp:", config.AuditComp)
		log.Println("statslog:", config.StatsLog)
		log.Println("statsperiod:", config.StatsPeriod)
		log.Println("pprof:", config.Pprof)
		log.Println("quiet:", config.Quiet)

		if config.Threads > 8*runtime.NumCPU() {
			color.Red("Warning: %d worker threads on %d CPUs, expect heavy contention", config.Threads, runtime.NumCPU())
		}
		if config.AuditComp && config.Audit == "" {
			color.Red("Warning: auditcomp has no effect without an audit file")
		}

		// Resolve the audit sink; the default is plain stderr.
		sink := std.NewSink(os.Stderr)
		if config.Audit != "" {
			sink, err = std.OpenSink(config.Audit, config.AuditComp)
			checkError(err)
			defer sink.Close()
		}

		// Start the stats logger if the feature is enabled.
		go std.StatsLogger(config.StatsLog, config.StatsPeriod)

		// Start the pprof server if the feature is enabled.
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Port))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid port: %d\n", config.Port)
			os.Exit(1)
		}
		log.Printf("Listening on: %v/tcp", listener.Addr())

		srv := &Server{
			listener: listener,
			queue:    queue.New[*std.Request](config.Threads),
			locks:    newLockTable(config.Threads),
			audit:    sink,
			threads:  config.Threads,
			quiet:    config.Quiet,
		}
		srv.running.Store(true)

		// The workers block popping the queue until the accept loop feeds
		// them or shutdown posts their sentinels.
		for i := 0; i < config.Threads; i++ {
			srv.wg.Add(1)
			go srv.worker()
		}

		go srv.watchSignals()

		srv.acceptLoop()
		srv.wg.Wait()
		return nil
	}
	myApp.Run(os.Args)
}

// acceptLoop accepts connections and enqueues one Request per connection
// until shutdown closes the listener.
func (srv *Server) acceptLoop() {
	for srv.running.Load() {
		conn, err := srv.listener.Accept()
		if err != nil {
			if !srv.running.Load() {
				return
			}
			log.Println("accept:", err)
			continue
		}

		std.DefaultStats.AddAccepted()
		srv.queue.Push(std.NewRequest(conn))
	}
}

// worker pops requests and runs the connection handler. A nil request is the
// shutdown sentinel.
func (srv *Server) worker() {
	defer srv.wg.Done()

	for {
		req, ok := srv.queue.Pop()
		if !ok || req == nil {
			return
		}
		srv.handle(req)
	}
}

// watchSignals shuts the server down on SIGINT or SIGTERM: the listener
// closes, the accept loop stops, and one sentinel per worker lets the pool
// drain and exit.
func (srv *Server) watchSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Println("signal:", sig)
	srv.shutdown()
}

func (srv *Server) shutdown() {
	srv.running.Store(false)
	srv.listener.Close()
	for i := 0; i < srv.threads; i++ {
		srv.queue.Push(nil)
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}
