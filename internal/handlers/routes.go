package handlers

import (
	"github.com/gin-gonic/gin"
)

// API groups the REST handlers mounted under /api/v1.
type API struct {
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Offers        *OfferHandler
	Appointments  *AppointmentHandler
	Notifications *NotificationHandler
}

// Register mounts the routes on rg. writeLimit guards the endpoints that append to a
// conversation.
func (a *API) Register(rg *gin.RouterGroup, writeLimit gin.HandlerFunc) {
	rg.GET("/conversations", a.Conversations.GetConversations)
	rg.POST("/conversations", a.Conversations.CreateConversation)
	rg.GET("/conversations/:id", a.Conversations.GetConversation)

	rg.GET("/conversations/:id/messages", a.Messages.GetMessages)
	rg.POST("/conversations/:id/messages", writeLimit, a.Messages.SendMessage)
	rg.POST("/conversations/:id/photos", writeLimit, a.Messages.UploadPhoto)
	rg.PUT("/conversations/:id/read", a.Messages.MarkRead)

	rg.GET("/conversations/:id/offers", a.Offers.ListOffers)
	rg.POST("/conversations/:id/offers", writeLimit, a.Offers.MakeOffer)
	rg.GET("/offers/:id", a.Offers.GetOffer)
	rg.PUT("/offers/:id/respond", a.Offers.RespondToOffer)

	rg.GET("/conversations/:id/appointments", a.Appointments.ListAppointments)
	rg.POST("/conversations/:id/appointments", writeLimit, a.Appointments.ScheduleAppointment)
	rg.GET("/appointments/:id", a.Appointments.GetAppointment)
	rg.PUT("/appointments/:id/respond", a.Appointments.RespondToAppointment)
	rg.PUT("/appointments/:id/suggest", a.Appointments.SuggestAnotherTime)
	rg.GET("/appointments/:id/responses", a.Appointments.ListResponses)
	rg.GET("/appointments/:id/calendar", a.Appointments.GetCalendarEvent)
	rg.PUT("/appointment-responses/:id/accept", a.Appointments.AcceptAlternative)

	rg.GET("/notifications", a.Notifications.GetNotifications)
	rg.PUT("/notifications/:id/read", a.Notifications.MarkRead)
}
