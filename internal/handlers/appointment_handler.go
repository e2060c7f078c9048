package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
)

type AppointmentHandler struct {
	svc *service.AppointmentService
}

func NewAppointmentHandler(svc *service.AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{svc: svc}
}

func (h *AppointmentHandler) ListAppointments(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	appts, err := h.svc.ListAppointments(c.Request.Context(), convID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, appts)
}

func (h *AppointmentHandler) ScheduleAppointment(c *gin.Context) {
	var req models.ScheduleAppointmentRequest
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

	appt, err := h.svc.ScheduleAppointment(c.Request.Context(), convID, uid, service.ScheduleInput{
		Date:     req.AppointmentDate,
		Location: req.Location,
		Notes:    req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, appt)
}

func (h *AppointmentHandler) GetAppointment(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	apptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(c.Request.Context(), apptID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, appt)
}

// RespondToAppointment records the invitee's reply to a pending appointment
func (h *AppointmentHandler) RespondToAppointment(c *gin.Context) {
	var req models.RespondAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	uid, ok := userID(c)
	if !ok {
		return
	}
	apptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	appt, resp, err := h.svc.RespondToAppointment(c.Request.Context(), apptID, uid, service.RespondInput{
		Type:              models.ResponseType(req.ResponseType),
		Message:           req.Message,
		SuggestedDate:     req.SuggestedDate,
		SuggestedLocation: req.SuggestedLocation,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"appointment": appt, "response": resp})
}

// SuggestAnotherTime adds a counter-proposal while an alternative is on the table
func (h *AppointmentHandler) SuggestAnotherTime(c *gin.Context) {
	var req models.SuggestAlternativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	uid, ok := userID(c)
	if !ok {
		return
	}
	apptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	appt, resp, err := h.svc.SuggestAnotherTime(c.Request.Context(), apptID, uid, service.SuggestInput{
		Date:     req.SuggestedDate,
		Location: req.SuggestedLocation,
		Message:  req.Message,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"appointment": appt, "response": resp})
}

func (h *AppointmentHandler) ListResponses(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	apptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	responses, err := h.svc.ListResponses(c.Request.Context(), apptID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, responses)
}

// AcceptAlternative adopts the date and location of a suggestion
func (h *AppointmentHandler) AcceptAlternative(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	responseID, ok := pathID(c, "id")
	if !ok {
		return
	}

	appt, err := h.svc.AcceptAlternative(c.Request.Context(), responseID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, appt)
}

// GetCalendarEvent returns the calendar projection of a confirmed appointment
func (h *AppointmentHandler) GetCalendarEvent(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	apptID, ok := pathID(c, "id")
	if !ok {
		return
	}

	ev, err := h.svc.CalendarEvent(c.Request.Context(), apptID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ev)
}
