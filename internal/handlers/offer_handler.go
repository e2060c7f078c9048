package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
)

type OfferHandler struct {
	svc *service.OfferService
}

func NewOfferHandler(svc *service.OfferService) *OfferHandler {
	return &OfferHandler{svc: svc}
}

// ListOffers returns every offer in the conversation. ?pending=true keeps only the ones
// still open to a response.
func (h *OfferHandler) ListOffers(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var (
		offers []models.Offer
		err    error
	)
	if c.Query("pending") == "true" {
		offers, err = h.svc.PendingOffers(c.Request.Context(), convID, uid)
	} else {
		offers, err = h.svc.ListOffers(c.Request.Context(), convID, uid)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, offers)
}

func (h *OfferHandler) MakeOffer(c *gin.Context) {
	var req models.MakeOfferRequest
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

	offer, err := h.svc.MakeOffer(c.Request.Context(), convID, uid, service.MakeOfferInput{
		Amount:       req.Amount,
		OfferType:    models.OfferType(req.OfferType),
		TradeDetails: req.TradeVehicleDetails,
		Message:      req.Message,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, offer)
}

func (h *OfferHandler) GetOffer(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	offerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	offer, err := h.svc.GetOffer(c.Request.Context(), offerID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}

// RespondToOffer accepts or declines a pending offer
func (h *OfferHandler) RespondToOffer(c *gin.Context) {
	var req models.RespondOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	uid, ok := userID(c)
	if !ok {
		return
	}
	offerID, ok := pathID(c, "id")
	if !ok {
		return
	}

	offer, err := h.svc.RespondToOffer(c.Request.Context(), offerID, uid, models.OfferStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}
