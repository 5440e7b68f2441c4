package rpc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Options configures the HTTP surface.
type Options struct {
	Addr           string
	AuthToken      string       // empty → no auth required
	AllowedOrigins []string     // CORS and websocket origins; empty → any
	TLS            *tls.Config  // nil → plain HTTP
	Metrics        http.Handler // nil → /metrics not served
}

// Server is a JSON-RPC 2.0 HTTP server with an event stream.
type Server struct {
	handler *Handler
	stream  *Stream
	opts    Options
	srv     *http.Server
}

// NewServer creates a Server. If opts.AuthToken is non-empty, RPC and stream
// requests must carry a matching "Authorization: Bearer <token>" header.
// stream may be nil.
func NewServer(opts Options, handler *Handler, stream *Stream) *Server {
	s := &Server{handler: handler, stream: stream, opts: opts}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		TLSConfig:         opts.TLS,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Path("/").Methods(http.MethodPost).HandlerFunc(s.authorize(s.serveRPC))
	if s.stream != nil {
		router.Path("/ws").Methods(http.MethodGet).HandlerFunc(s.authorize(s.stream.ServeHTTP))
	}
	if s.opts.Metrics != nil {
		router.Path("/metrics").Methods(http.MethodGet).Handler(s.opts.Metrics)
	}
	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := handlers.CompressHandler(router)
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"content-type", "authorization"}),
	)(handler)
}

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	if s.opts.TLS != nil {
		ln = tls.NewListener(ln, s.opts.TLS)
	}
	log.Info("RPC server started", "addr", ln.Addr(), "tls", s.opts.TLS != nil, "auth", s.opts.AuthToken != "")
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("RPC server error", "err", err)
		}
	}()
	return nil
}

// Stop closes stream connections and gracefully shuts down the HTTP server,
// waiting up to 5 seconds for in-flight requests to complete.
func (s *Server) Stop() error {
	if s.stream != nil {
		s.stream.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AuthToken != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.AuthToken {
			writeJSON(w, errResponse(nil, CodeUnauthorized, "unauthorized"))
			return
		}
		next(w, r)
	}
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1 MB to prevent memory exhaustion.
	r.Body = http.MaxBytesReader(w, r.Body, 1*1024*1024)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, CodeParseError, err.Error()))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, errResponse(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'"))
		return
	}

	resp := s.handler.Dispatch(r.Context(), req)
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
