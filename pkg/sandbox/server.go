package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/jingkaihe/wasmlet/pkg/api"
	"github.com/jingkaihe/wasmlet/pkg/policy"
)

// Server bridges inbound HTTP to the guest's handler surface. The prepared
// module, spec, and resolved policy are shared immutably across every
// request task; each request gets its own Sandbox.
type Server struct {
	pre     *PreparedModule
	factory *Factory
	logger  *slog.Logger
}

func NewServer(pre *PreparedModule, spec *api.ModuleSpec, pol *policy.Policy, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pre:     pre,
		factory: NewFactory(spec, pol, logger),
		logger:  logger,
	}
}

// Serve runs the accept loop on an already-bound listener. HTTP/1.1 with
// keep-alive; each connection's requests are served concurrently with all
// other connections by net/http's per-connection goroutines.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: s}
	return srv.Serve(ln)
}

// ServeHTTP drives one request through a fresh sandbox: hand the request to
// a spawned guest task, await the response rendezvous, relay. The guest
// task owns the sandbox and may legitimately outlive the rendezvous to
// stream the rest of the body; resources drop when the guest task ends,
// never before.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := NewOutparam()
	sb, err := s.factory.Build(s.pre.engine, r, out)
	if err != nil {
		s.logger.Error("failed to build sandbox", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	logger := sb.logger.With("method", r.Method, "path", r.URL.Path)

	guestDone := make(chan error, 1)
	go func() {
		defer sb.Close()
		err := sb.run(s.pre)
		sb.finish(err)
		guestDone <- err
	}()

	oc, set := out.receive()
	switch {
	case set && oc.err == nil:
		logger.Debug("guest set response", "status", oc.resp.Status)
		s.relay(w, oc.resp, logger)
	case set:
		logger.Error("guest set error", "error", oc.err)
		http.Error(w, oc.err.Error(), http.StatusInternalServerError)
	default:
		// The guest task ended without touching the outparam; its result
		// says whether it failed or just never responded.
		err := <-guestDone
		if err == nil {
			err = ErrNeverSet
		} else {
			err = fmt.Errorf("%w: %w", ErrNeverSet, err)
		}
		logger.Error("guest finished without response", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// relay copies status, headers, and then the streaming body to the client.
// A client disconnect stops the relay and releases the pipe so the guest's
// next body write fails instead of blocking forever.
func (s *Server) relay(w http.ResponseWriter, resp *GuestResponse, logger *slog.Logger) {
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)

	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				logger.Debug("client went away mid-body", "error", werr)
				return
			}
			rc.Flush()
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			// Guest trapped after headers were flushed; the truncated
			// body is all the client gets.
			logger.Warn("guest body stream failed", "error", err)
			return
		}
	}
}
