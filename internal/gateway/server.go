package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"foundry-chat/internal/protocol"
	"foundry-chat/internal/runtime"
	"foundry-chat/pkg/config"
	"foundry-chat/pkg/logger"
)

// AgentRuntime is the runtime surface the gateway dispatches onto
type AgentRuntime interface {
	AgentName() string
	AgentID() string
	Chat(ctx context.Context, message, previousResponseID string) (*runtime.Result, error)
	Continue(ctx context.Context, previousResponseID string) (*runtime.Result, error)
	SubmitApprovals(ctx context.Context, previousResponseID string, approvals []protocol.ApprovalItem) (*runtime.Result, error)
}

// Server fronts the agent runtime with the chat wire contract: one /chat
// route accepting the three request shapes and answering with exactly one of
// the three response shapes.
type Server struct {
	cfg    *config.Config
	rt     AgentRuntime
	auth   *Authenticator
	router *gin.Engine
	logger *zap.Logger
}

// NewServer builds the router and, when a JWKS URL is configured, the
// bearer-token authenticator.
func NewServer(ctx context.Context, cfg *config.Config, rt AgentRuntime) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		rt:     rt,
		logger: logger.Named("gateway"),
	}

	if cfg.JWKSURL != "" {
		auth, err := NewAuthenticator(ctx, cfg.JWKSURL, cfg.TenantID, cfg.Audience)
		if err != nil {
			return nil, err
		}
		s.auth = auth
	} else {
		s.logger.Warn("Bearer validation disabled, no JWKS URL configured")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	authed := router.Group("/")
	authed.Use(s.authMiddleware())
	{
		authed.GET("/agents/:name", s.handleGetAgent)
		authed.POST("/chat", s.handleChat)
	}

	s.router = router
	return s, nil
}

// Handler returns the HTTP handler for serving
func (s *Server) Handler() http.Handler {
	return s.router
}

// authMiddleware validates bearer tokens, or passes through when disabled
func (s *Server) authMiddleware() gin.HandlerFunc {
	if s.auth == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return s.auth.Middleware()
}

func (s *Server) handleGetAgent(c *gin.Context) {
	name := c.Param("name")
	if name != s.rt.AgentName() {
		c.JSON(http.StatusNotFound, gin.H{"detail": "agent not found: " + name})
		return
	}
	c.JSON(http.StatusOK, protocol.AgentInfo{
		Name: s.rt.AgentName(),
		ID:   s.rt.AgentID(),
	})
}

// handleChat dispatches the three request shapes: resume after consent,
// approval submission, and a plain user message.
func (s *Server) handleChat(c *gin.Context) {
	var req protocol.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if req.AgentName != s.rt.AgentName() {
		c.JSON(http.StatusNotFound, gin.H{"detail": "agent not found: " + req.AgentName})
		return
	}

	ctx := c.Request.Context()
	var result *runtime.Result
	var err error

	switch {
	case req.Action == protocol.ActionContinue:
		if req.PreviousResponseID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "previous_response_id is required for action=continue"})
			return
		}
		result, err = s.rt.Continue(ctx, req.PreviousResponseID)

	case len(req.Approvals) > 0:
		if req.PreviousResponseID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "previous_response_id is required when submitting approvals"})
			return
		}
		result, err = s.rt.SubmitApprovals(ctx, req.PreviousResponseID, req.Approvals)

	default:
		if req.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "message is required when approvals are not provided"})
			return
		}
		result, err = s.rt.Chat(ctx, req.Message, req.PreviousResponseID)
	}

	if err != nil {
		s.logger.Error("Chat turn failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"detail": "Chat failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, result.ToResponse())
}

// corsMiddleware mirrors the permissive CORS policy of the upstream service
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
