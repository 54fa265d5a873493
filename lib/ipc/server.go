package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/gravitational/trace"
	"github.com/jiaoziflow/jiaoziflow/lib/jlog"
)

// Server hosts a Handler's RequestAvailable/CompleteResult/SubmitOutput/
// Finish methods over a Unix domain socket, as plain loopback HTTP
// (GET /data, POST /complete, POST /submit, POST /finish).
type Server struct {
	socketPath string
	handler    Handler
	log        jlog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds a Server that will listen on socketPath once Start is
// called. socketPath is removed first if a stale socket file is present.
func NewServer(socketPath string, handler Handler, log jlog.Logger) *Server {
	if log == nil {
		log = jlog.NewDefault("ipc-server")
	}
	s := &Server{socketPath: socketPath, handler: handler, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/data", s.handleRequestAvailable)
	mux.HandleFunc("/complete", s.handleComplete)
	mux.HandleFunc("/submit", s.handleSubmit)
	mux.HandleFunc("/finish", s.handleFinish)
	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Start binds the Unix socket and serves until ctx is canceled or Stop is
// called. It returns once the listener is closed.
func (s *Server) Start(ctx context.Context) error {
	_ = os.Remove(s.socketPath)
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return trace.Wrap(err, "listening on %v", s.socketPath)
	}
	s.listener = listener

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return trace.Wrap(err, "serving ipc on %v", s.socketPath)
	}
	return nil
}

// Stop closes the listener, unblocking Start.
func (s *Server) Stop() error {
	return s.httpServer.Close()
}

func (s *Server) handleRequestAvailable(w http.ResponseWriter, r *http.Request) {
	labelID := r.URL.Query().Get("label")
	data, err := s.handler.RequestAvailable(r.Context(), labelID)
	if err != nil {
		writeError(w, err)
		return
	}
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.handler.CompleteResult(r.Context(), req.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.handler.SubmitOutput(r.Context(), req); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	if err := s.handler.Finish(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, NewError(ErrUnknown, "malformed request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	ipcErr, ok := err.(*Error)
	if !ok {
		ipcErr = Unknown(err)
	}
	writeJSON(w, statusForCode(ipcErr.Code), ipcErr)
}

func statusForCode(code ErrorCode) int {
	switch code {
	case ErrAlreadyFinish, ErrInComingFinish:
		return http.StatusConflict
	case ErrNotReady:
		return http.StatusServiceUnavailable
	case ErrNoAvailableData:
		return http.StatusNoContent
	case ErrDataMissing:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
