// Package server exposes health, metrics, state and command intake over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/control"
	"github.com/amirphl/breakout-trader/internal/notifier"
	"github.com/amirphl/breakout-trader/internal/state"
	"github.com/amirphl/breakout-trader/internal/utils"
)

// DirectSender is the sender id given to commands posted to /api/commands.
const DirectSender = "http"

const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type Config struct {
	Addr string
	// Token guards /api/commands and, when set, is the Telegram webhook secret.
	Token           string
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg     Config
	st      *state.State
	webhook *control.Queue
	direct  *control.Queue
	log     *logrus.Entry
}

// New wires the routes. A nil queue leaves its endpoint unregistered.
func New(cfg Config, st *state.State, webhook, direct *control.Queue) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, st: st, webhook: webhook, direct: direct, log: utils.Component("http")}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.cfg.Token != "" {
		r.GET("/status", s.requireToken, s.handleStatus)
	} else {
		r.GET("/status", s.handleStatus)
	}

	if s.webhook != nil {
		r.POST("/telegram/webhook", s.handleWebhook)
	}
	if s.direct != nil && s.cfg.Token != "" {
		api := r.Group("/api", s.requireToken)
		api.POST("/commands", s.handleCommand)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.WithField("addr", s.cfg.Addr).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("http shutdown")
		}
		s.log.Info("http server stopped")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server failed")
		}
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.st.Snapshot())
}

func (s *Server) handleWebhook(c *gin.Context) {
	if s.cfg.Token != "" && !tokenEqual(c.GetHeader(webhookSecretHeader), s.cfg.Token) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var u notifier.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}
	if err := s.webhook.Push(u.ToCommand()); err != nil {
		// Telegram redelivers on non-2xx
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

type commandRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if _, ok := control.ParseCommand(req.Text); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command"})
		return
	}
	id, err := s.direct.Submit(DirectSender, req.Text)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) requireToken(c *gin.Context) {
	got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || !tokenEqual(got, s.cfg.Token) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
