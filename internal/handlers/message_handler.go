package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
)

const maxUploadBytes = 10 << 20

type MessageHandler struct {
	svc *service.ConversationService
}

func NewMessageHandler(svc *service.ConversationService) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// GetMessages returns a page of the conversation timeline
func (h *MessageHandler) GetMessages(c *gin.Context) {
	var req models.GetMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	uid, ok := userID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	messages, err := h.svc.ListMessages(c.Request.Context(), convID, uid, req.Limit, req.Offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

// SendMessage appends a text message (REST endpoint)
func (h *MessageHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	uid, ok := userID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), convID, uid, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// UploadPhoto accepts a multipart "photo" file with an optional "caption" field
func (h *MessageHandler) UploadPhoto(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	fh, err := c.FormFile("photo")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "photo file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Failed to read photo")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Failed to read photo")
		return
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	in := service.PhotoInput{ContentType: contentType, Data: data}
	if caption := strings.TrimSpace(c.PostForm("caption")); caption != "" {
		in.Caption = &caption
	}

	msg, err := h.svc.SendPhoto(c.Request.Context(), convID, uid, in)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// MarkRead marks the counterpart's messages in the conversation read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	n, err := h.svc.MarkRead(c.Request.Context(), convID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": n})
}
