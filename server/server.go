package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/rootstack/embed"
	"github.com/chazu/rootstack/trace"
)

var log = commonlog.GetLogger("rootstack.server")

// InspectServer serves the read-only inspection service for a running
// session. It speaks Connect, gRPC and gRPC-Web on the same port.
type InspectServer struct {
	worker *embed.Worker
	mux    *http.ServeMux
	http   *http.Server
}

// ServerOption configures an InspectServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	recorder  *trace.Recorder
	collector Collector
}

// WithRecorder exposes the events held by r through the Events procedure.
func WithRecorder(r *trace.Recorder) ServerOption {
	return func(c *serverConfig) { c.recorder = r }
}

// WithCollector enables the Collect procedure.
func WithCollector(col Collector) ServerOption {
	return func(c *serverConfig) { c.collector = col }
}

// New creates an InspectServer for the session owned by worker.
func New(worker *embed.Worker, opts ...ServerOption) *InspectServer {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &InspectServer{
		worker: worker,
		mux:    http.NewServeMux(),
	}
	s.http = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	inspectSvc := NewInspectService(worker, cfg.recorder, cfg.collector)
	path, handler := NewInspectionServiceHandler(inspectSvc)
	s.mux.Handle(path, handler)
	return s
}

// Handler returns the server's HTTP handler.
func (s *InspectServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *InspectServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *InspectServer) Serve(ln net.Listener) error {
	log.Infof("inspection service listening on %s", ln.Addr())
	log.Infof("  Connect (HTTP/JSON): http://%s/%s/Stats", ln.Addr(), InspectionServiceName)
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the HTTP server. The worker is left running.
func (s *InspectServer) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
