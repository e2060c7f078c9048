package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
)

type ConversationHandler struct {
	svc *service.ConversationService
}

func NewConversationHandler(svc *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// CreateConversation starts (or returns) the caller's conversation with a seller about a
// listing. The caller is the buyer.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req models.StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	uid, ok := userID(c)
	if !ok {
		return
	}

	conv, created, err := h.svc.FindOrCreate(c.Request.Context(), uid, req.SellerID, req.ListingID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

// GetConversations returns the caller's conversations, most recent first
func (h *ConversationHandler) GetConversations(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	convs, err := h.svc.List(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, convs)
}

// GetConversation returns one conversation with its listing, last message and unread count
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	conv, err := h.svc.Get(c.Request.Context(), convID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, conv)
}
