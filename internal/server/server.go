package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"criptoguia-rates/internal/chat"
	"criptoguia-rates/internal/config"
	"criptoguia-rates/internal/ratecache"
)

// Server exposes the cache layer and the chat pass-through over HTTP.
type Server struct {
	cache   *ratecache.Cache
	chat    *chat.Client
	windows config.CacheConfig
	logger  zerolog.Logger
	engine  *gin.Engine
	http    *http.Server
}

// New wires the HTTP API. chatClient may be nil when the assistant is disabled.
func New(cfg config.ServerConfig, windows config.CacheConfig, cache *ratecache.Cache, chatClient *chat.Client, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cache:   cache,
		chat:    chatClient,
		windows: windows,
		logger:  logger.With().Str("component", "http_server").Logger(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/rate/p2p-market", s.handleP2PMarket)
	engine.GET("/rate/official-usd", s.handleOfficial(ratecache.SourceOfficialUSD))
	engine.GET("/rate/official-eur", s.handleOfficial(ratecache.SourceOfficialEUR))
	engine.POST("/chat", s.handleChat)

	s.engine = engine
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the underlying router, used by tests.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	}
}

type p2pResponse struct {
	Success       bool      `json:"success"`
	Rate          float64   `json:"rate"`
	FirstPrice    float64   `json:"firstPrice"`
	Prices        []float64 `json:"prices"`
	PercentChange float64   `json:"percentChange"`
	AdsCount      int       `json:"adsCount"`
	Timestamp     string    `json:"timestamp"`
	FromCache     bool      `json:"fromCache,omitempty"`
	CacheAge      *float64  `json:"cacheAge,omitempty"`
}

type officialResponse struct {
	Success   bool     `json:"success"`
	Moneda    string   `json:"moneda"`
	Valor     string   `json:"valor"`
	Timestamp string   `json:"timestamp"`
	FromCache bool     `json:"fromCache,omitempty"`
	CacheAge  *float64 `json:"cacheAge,omitempty"`
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleP2PMarket(c *gin.Context) {
	reading, err := s.cache.Get(c.Request.Context(), ratecache.SourceP2PMarket)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if reading.P2P == nil {
		s.writeError(c, fmt.Errorf("p2p reading missing order book sample"))
		return
	}

	prices := make([]float64, 0, len(reading.P2P.Prices))
	for _, p := range reading.P2P.Prices {
		prices = append(prices, p.InexactFloat64())
	}

	resp := p2pResponse{
		Success:       true,
		Rate:          reading.Rate.InexactFloat64(),
		FirstPrice:    reading.P2P.FirstPrice.InexactFloat64(),
		Prices:        prices,
		PercentChange: reading.P2P.PercentChange.InexactFloat64(),
		AdsCount:      reading.P2P.AdsCount,
		Timestamp:     reading.ObservedAt.UTC().Format(time.RFC3339),
		FromCache:     reading.FromCache || reading.Stale,
		CacheAge:      cacheAgeSeconds(reading),
	}

	s.setCacheHeader(c, s.windows.P2PWindow)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOfficial(source ratecache.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		reading, err := s.cache.Get(c.Request.Context(), source)
		if err != nil {
			s.writeError(c, err)
			return
		}

		resp := officialResponse{
			Success:   true,
			Moneda:    reading.Currency,
			Valor:     reading.Rate.StringFixed(2),
			Timestamp: reading.ObservedAt.UTC().Format(time.RFC3339),
			FromCache: reading.FromCache || reading.Stale,
			CacheAge:  cacheAgeSeconds(reading),
		}

		s.setCacheHeader(c, s.windows.OfficialWindow)
		c.JSON(http.StatusOK, resp)
	}
}

type chatRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history"`
}

type chatResponse struct {
	Success   bool   `json:"success"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleChat(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{
			Success:   false,
			Error:     "chat is not configured",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, errorResponse{
			Success:   false,
			Error:     "message is required",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	rateContext := chat.BuildRateContext(s.cache.Snapshot())
	reply, err := s.chat.Send(c.Request.Context(), req.Message, req.History, rateContext)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Success:   true,
		Response:  reply,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, errorResponse{
		Success:   false,
		Error:     err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) setCacheHeader(c *gin.Context, window time.Duration) {
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(window.Seconds())))
}

// cacheAgeSeconds reports the reading age only for stale responses, so clients
// can render an "as of" indicator.
func cacheAgeSeconds(reading ratecache.Reading) *float64 {
	if !reading.Stale {
		return nil
	}
	age := reading.Age.Seconds()
	return &age
}
