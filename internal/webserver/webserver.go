// Package webserver implements a small wrapper of http.Server: request
// logging, a bound http.ServeMux, and Listen/Serve on a fixed TCP port.
// Adapted from Perkeep's pkg/webserver, with the TLS, bandwidth
// throttling, file-descriptor inheritance, and test-harness pipe
// integration stripped — this service always serves plain HTTP on one
// configured port (spec.md §6 "Process boundary").
package webserver

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
)

type Server struct {
	mux      *http.ServeMux
	listener net.Listener
	verbose  bool

	Logger *log.Logger // or nil

	mu   sync.Mutex
	reqs int64
}

func New() *Server {
	verbose, _ := strconv.ParseBool(os.Getenv("ZARRIMAGED_HTTP_DEBUG"))
	return &Server{
		mux:     http.NewServeMux(),
		verbose: verbose,
	}
}

func (s *Server) printf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
		return
	}
	log.Printf(format, v...)
}

func (s *Server) fatalf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Fatalf(format, v...)
		return
	}
	log.Fatalf(format, v...)
}

func (s *Server) ListenURL() string {
	if s.listener != nil {
		if taddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			if taddr.IP.IsUnspecified() {
				return fmt.Sprintf("http://localhost:%d", taddr.Port)
			}
			return fmt.Sprintf("http://%s", s.listener.Addr())
		}
	}
	return ""
}

func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	var n int64
	if s.verbose {
		s.mu.Lock()
		s.reqs++
		n = s.reqs
		s.mu.Unlock()
		s.printf("request #%d: %s %s (from %s) ...", n, req.Method, req.RequestURI, req.RemoteAddr)
		rw = &trackResponseWriter{ResponseWriter: rw}
	}
	s.mux.ServeHTTP(rw, req)
	if s.verbose {
		tw := rw.(*trackResponseWriter)
		s.printf("request #%d: %s %s = code %d, %d bytes", n, req.Method, req.RequestURI, tw.code, tw.resSize)
	}
}

type trackResponseWriter struct {
	http.ResponseWriter
	code    int
	resSize int64
}

func (tw *trackResponseWriter) WriteHeader(code int) {
	tw.code = code
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackResponseWriter) Write(p []byte) (int, error) {
	if tw.code == 0 {
		tw.code = 200
	}
	tw.resSize += int64(len(p))
	return tw.ResponseWriter.Write(p)
}

// Listen binds the TCP listener for addr (host:port, host may be
// empty), without starting to serve.
func (s *Server) Listen(addr string) error {
	if s.listener != nil {
		return nil
	}
	if addr == "" {
		return fmt.Errorf("webserver: a <host>:<port> address is required")
	}
	var err error
	s.listener, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webserver: listen on %s: %v", addr, err)
	}
	s.printf("listening on %s", s.ListenURL())
	return nil
}

// Serve blocks, serving requests on the port Listen bound (or binding
// on ":<port>" first if Listen hasn't been called).
func (s *Server) Serve(port int) {
	if s.listener == nil {
		if err := s.Listen(fmt.Sprintf(":%d", port)); err != nil {
			s.fatalf("listen error: %v", err)
		}
	}
	srv := &http.Server{Handler: s}
	if err := srv.Serve(s.listener); err != nil {
		s.printf("http server exited: %v", err)
		os.Exit(1)
	}
}
