// Package server exposes the HTTP surface: the historical query endpoint,
// the live WebSocket feed, the health probe and Prometheus metrics.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/config"
	"github.com/timzifer/meteohub/history"
	"github.com/timzifer/meteohub/live"
	"github.com/timzifer/meteohub/series"
)

// Server serves chart consumers: bounded history queries over HTTP and live
// readings over WebSocket.
type Server struct {
	logger         zerolog.Logger
	feed           *live.Feed
	assembler      *history.Assembler
	listen         string
	defaultMinutes int
	sendBuffer     int
	upgrader       websocket.Upgrader

	httpServer *http.Server
	ln         net.Listener
	stopOnce   sync.Once
}

// New wires the HTTP surface. Start must be called before the server accepts
// connections.
func New(cfg *config.Config, feed *live.Feed, assembler *history.Assembler, logger zerolog.Logger) *Server {
	return &Server{
		logger:         logger,
		feed:           feed,
		assembler:      assembler,
		listen:         cfg.Server.Listen,
		defaultMinutes: cfg.History.DefaultMinutes,
		sendBuffer:     cfg.Live.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers connect from a separately served frontend.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/health", s.handleHealth)
	router.Get("/api/history", s.handleHistory)
	router.Get("/ws", s.handleWS)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listen, err)
	}
	s.ln = ln
	s.httpServer = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("server: serve failed")
		}
	}()
	s.logger.Info().Str("listen", ln.Addr().String()).Msg("server: listening")
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops accepting connections and closes the listener.
func (s *Server) Close() {
	if s == nil || s.httpServer == nil {
		return
	}
	s.stopOnce.Do(func() {
		if err := s.httpServer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("server: close failed")
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	minutesRaw := query.Get("minutes")
	if minutesRaw == "" {
		minutesRaw = strconv.Itoa(s.defaultMinutes)
	}
	minutes, err := strconv.ParseFloat(minutesRaw, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid 'minutes' query parameter"})
		return
	}

	result, err := s.assembler.GetHistory(r.Context(), minutes, query.Get("deviceId"))
	if err != nil {
		if errors.Is(err, history.ErrInvalidRange) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid 'minutes' query parameter"})
			return
		}
		s.logger.Error().Err(err).Msg("server: history query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history query failed"})
		return
	}

	if maxPointsRaw := query.Get("maxPoints"); maxPointsRaw != "" {
		if maxPoints, err := strconv.Atoi(maxPointsRaw); err == nil && maxPoints > 0 {
			for key, points := range result.Points {
				result.Points[key] = series.Downsample(points, maxPoints)
			}
		}
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("server: websocket upgrade failed")
		return
	}

	client := newWSClient(conn, s.sendBuffer, s.logger, func(c *wsClient) {
		s.feed.Unsubscribe(c)
	})
	s.feed.Subscribe(client)
	go client.writePump()
	go client.readPump()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
