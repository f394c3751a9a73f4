// Package httpserver is the HTTP front-end (C6): it terminates incoming
// HTTP connections, enforces the POST-only/path-allowlist/Basic-auth
// contract, hands each request body to the router, and surfaces whatever
// error envelope or passthrough bytes come back. Graceful shutdown
// follows net/http's own stop-accepting/drain/close sequence, the way the
// teacher's services start and stop their HTTP listeners.
package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ordishs/btc-rpc-proxy/metrics"
	"github.com/ordishs/btc-rpc-proxy/rpc"
	"github.com/ordishs/btc-rpc-proxy/rpcserver"
	"github.com/ordishs/btc-rpc-proxy/ulogger"
	"github.com/segmentio/encoding/json"
)

const methodNotAllowedBody = "JSONRPC server handles only POST requests"

// Server is the proxy's HTTP front-end.
type Server struct {
	router *rpcserver.Router
	log    ulogger.Logger
	http   *http.Server
}

func New(bind string, router *rpcserver.Router, log ulogger.Logger) *Server {
	metrics.Init()

	s := &Server{
		router: router,
		log:    log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)

	s.http = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// ListenAndServe starts accepting connections. It blocks until the server
// is shut down, returning nil in that case (matching http.Server's own
// ErrServerClosed contract).
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and waits for in-flight
// requests to drain before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTPForTest exposes the request handler directly so tests can drive
// it with httptest without binding a real listener.
func (s *Server) ServeHTTPForTest(w http.ResponseWriter, req *http.Request) {
	s.handle(w, req)
}

func (s *Server) handle(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(methodNotAllowedBody))
		return
	}

	if !pathAllowed(req.URL.Path) {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	auth := req.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Basic ") {
		w.Header().Set("WWW-Authenticate", `Basic realm="jsonrpc"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		s.writeError(w, err, 0)
		return
	}

	respBody, status, err := s.router.Handle(req.Context(), body, auth, req.URL.Path)
	if err != nil {
		s.log.Errorf("%v", err)
		s.log.Debugf("%+v", err)
		s.writeError(w, err, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)

	metrics.RequestsTotal.WithLabelValues(methodOf(body), outcomeOf(status)).Inc()
}

// writeError surfaces a JSON-RPC error envelope for failures the router
// itself couldn't turn into a shaped RpcResponse (transport failures,
// marshal failures). status, if zero, defaults to 500.
func (s *Server) writeError(w http.ResponseWriter, err error, status int) {
	if status == 0 {
		status = http.StatusInternalServerError
	}

	envelope := rpc.RpcResponse{
		Error: &rpc.RpcError{Code: rpc.MiscErrorCode, Message: err.Error()},
	}

	data, marshalErr := json.Marshal(envelope)
	if marshalErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func pathAllowed(path string) bool {
	if path == "" || path == "/" {
		return true
	}
	return strings.HasPrefix(path, "/wallet/")
}

func methodOf(body []byte) string {
	var req rpc.RpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "unknown"
	}
	if req.Method == "" {
		return "batch"
	}
	return req.Method
}

func outcomeOf(status int) string {
	if status >= 200 && status < 300 {
		return "success"
	}
	return "error"
}
