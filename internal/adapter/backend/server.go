// Package backend serves the chat and embed-url endpoints the quickchat client
// talks to, backed by Bedrock and QuickSight.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/oklog/ulid/v2"

	"quickchat/internal/domain"
	"quickchat/internal/infra/config"
	"quickchat/internal/infra/metrics"
	"quickchat/internal/infra/middleware"
)

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 1 << 20

// ChatResponder answers one chat message for a user.
type ChatResponder interface {
	Reply(ctx context.Context, userID, text string) (string, error)
}

// URLIssuer produces a fresh embed URL.
type URLIssuer interface {
	EmbedURL(ctx context.Context) (string, error)
}

// Diagnoser reports on the AWS identity and QuickSight setup.
type Diagnoser interface {
	UserInfo(ctx context.Context) (UserInfo, error)
	Topics(ctx context.Context) ([]Topic, error)
}

// Options configures the HTTP surface.
type Options struct {
	Backend   config.BackendConfig
	SDKSrc    string
	Container string

	// Diagnostics mounts /api/quicksight/* when set.
	Diagnostics Diagnoser
}

// Server is the backend HTTP service.
type Server struct {
	opts    Options
	chat    ChatResponder
	embed   URLIssuer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type embedURLResponse struct {
	EmbedURL string `json:"embedUrl"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// NewServer wires a Server. m may be nil.
func NewServer(opts Options, chat ChatResponder, embed URLIssuer, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, chat: chat, embed: embed, metrics: m, logger: logger}
}

// Handler builds the router. ctx bounds the rate limiter's background sweeper.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(s.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.Backend.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.SecurityHeaders(middleware.APIPolicy))
		r.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.opts.Backend.RequestsPerMin,
			BurstSize:      s.opts.Backend.BurstSize,
			OnReject: func(client string) {
				s.metrics.RecordRateLimited()
				s.logger.Warn("rate limited", "client", client)
			},
		}))
		r.Post("/chat", s.handleChat)
		r.Get("/get-embed-url/", s.handleEmbedURL)
		if s.opts.Diagnostics != nil {
			r.Get("/api/quicksight/user-info", s.handleUserInfo)
			r.Get("/api/quicksight/list-topics", s.handleListTopics)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.SecurityHeaders(middleware.EmbedHostPolicy(originOf(s.opts.SDKSrc))))
		r.Get("/embed-host", s.handleEmbedHost)
	})

	return r
}

// Serve listens on the configured address and blocks until ctx ends, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	ln, err := net.Listen("tcp", s.opts.Backend.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Backend.Addr, err)
	}
	s.logger.Info("backend listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("backend stopped")
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail := "invalid JSON: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			detail = "request body too large (max 1MB)"
		}
		writeError(w, http.StatusBadRequest, detail)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	reply, err := s.chat.Reply(r.Context(), req.UserID, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func (s *Server) handleEmbedURL(w http.ResponseWriter, r *http.Request) {
	u, err := s.embed.EmbedURL(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, embedURLResponse{EmbedURL: u})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.opts.Diagnostics.UserInfo(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type topicsResponse struct {
	Topics []Topic `json:"topics"`
	Count  int     `json:"count"`
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.opts.Diagnostics.Topics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topicsResponse{Topics: topics, Count: len(topics)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var embedHostPage = template.Must(template.New("host").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Quick Chat</title></head>
<body style="margin:0">
<div id="{{.}}"></div>
</body>
</html>
`))

func (s *Server) handleEmbedHost(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = embedHostPage.Execute(w, strings.TrimPrefix(s.opts.Container, "#"))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorStatus(err)
	s.logger.Error("request failed",
		"path", r.URL.Path,
		"status", status,
		"code", domain.ErrorCodeOf(err),
		"request_id", w.Header().Get("X-Request-ID"),
		"error", err,
	)
	writeError(w, status, detail)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", w.Header().Get("X-Request-ID"),
		)
	})
}

// requestID tags every response with a sortable request id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = ulid.Make().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// originOf returns scheme://host of raw, or raw itself when it does not parse.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	return u.Scheme + "://" + u.Host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
