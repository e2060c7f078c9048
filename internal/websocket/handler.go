package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tullo/bazaar/internal/auth"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
	"github.com/tullo/bazaar/pkg/logger"
	"go.uber.org/zap"
)

// Handler handles WebSocket connections
type Handler struct {
	hub           *Hub
	jwtService    *auth.JWTService
	conversations *service.ConversationService
	limiter       Limiter
	typing        Typing
	upgrader      websocket.Upgrader
	logger        *logger.Logger
}

// NewHandler creates a new WebSocket handler. With no allowed origins every origin is
// accepted. limiter and typing may be nil.
func NewHandler(
	hub *Hub,
	jwtService *auth.JWTService,
	conversations *service.ConversationService,
	limiter Limiter,
	typing Typing,
	allowedOrigins []string,
	log *logger.Logger,
) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	h := &Handler{
		hub:           hub,
		jwtService:    jwtService,
		conversations: conversations,
		limiter:       limiter,
		typing:        typing,
		logger:        log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			for _, pattern := range allowedOrigins {
				if matchOrigin(pattern, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(c *gin.Context) {
	// Browsers cannot set headers on the upgrade request, so the token rides in the query
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := NewClient(
		h.hub,
		conn,
		models.User{ID: claims.UserID, DisplayName: claims.DisplayName},
		h.conversations,
		h.limiter,
		h.typing,
		h.logger,
	)

	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetOnlineUsers returns the users connected to this instance
func (h *Handler) GetOnlineUsers(c *gin.Context) {
	onlineUsers := h.hub.GetOnlineUsers()
	c.JSON(http.StatusOK, gin.H{
		"online_users": onlineUsers,
		"count":        len(onlineUsers),
	})
}

// matchOrigin supports exact matches or wildcard patterns like *.example.com
func matchOrigin(pattern, origin string) bool {
	if pattern == origin {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		originHost := origin
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
			originHost = u.Hostname()
		}
		return strings.HasSuffix(originHost, strings.TrimPrefix(pattern, "*"))
	}
	return false
}
