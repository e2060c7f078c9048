package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
)

// AppointmentStatus is the operational state of the meeting.
type AppointmentStatus string

const (
	AppointmentScheduled   AppointmentStatus = "scheduled"
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentDeclined    AppointmentStatus = "declined"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
)

// ResponseStatus is the invitee's reply state.
type ResponseStatus string

const (
	ResponsePending      ResponseStatus = "pending"
	ResponseAccepted     ResponseStatus = "accepted"
	ResponseDeclined     ResponseStatus = "declined"
	ResponseAltSuggested ResponseStatus = "alt_suggested"
)

type ResponseType string

const (
	ResponseTypeAccept             ResponseType = "accept"
	ResponseTypeDecline            ResponseType = "decline"
	ResponseTypeSuggestAlternative ResponseType = "suggest_alternative"
)

func (t ResponseType) Valid() bool {
	switch t {
	case ResponseTypeAccept, ResponseTypeDecline, ResponseTypeSuggestAlternative:
		return true
	}
	return false
}

type Appointment struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	ConversationID  uuid.UUID         `json:"conversation_id" db:"conversation_id"`
	ListingID       uuid.UUID         `json:"listing_id" db:"listing_id"`
	ScheduledBy     uuid.UUID         `json:"scheduled_by" db:"scheduled_by"`
	ScheduledWith   uuid.UUID         `json:"scheduled_with" db:"scheduled_with"`
	AppointmentDate time.Time         `json:"appointment_date" db:"appointment_date"`
	Location        *string           `json:"location,omitempty" db:"location"`
	Notes           *string           `json:"notes,omitempty" db:"notes"`
	Status          AppointmentStatus `json:"status" db:"status"`
	ResponseStatus  ResponseStatus    `json:"response_status" db:"response_status"`
	ResponseMessage *string           `json:"response_message,omitempty" db:"response_message"`
	RespondedAt     *time.Time        `json:"responded_at,omitempty" db:"responded_at"`
	RespondedBy     *uuid.UUID        `json:"responded_by,omitempty" db:"responded_by"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
	Version         int               `json:"version" db:"version"`
}

type AppointmentResponse struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	AppointmentID     uuid.UUID    `json:"appointment_id" db:"appointment_id"`
	ResponderID       uuid.UUID    `json:"responder_id" db:"responder_id"`
	ResponseType      ResponseType `json:"response_type" db:"response_type"`
	SuggestedDate     *time.Time   `json:"suggested_date,omitempty" db:"suggested_date"`
	SuggestedLocation *string      `json:"suggested_location,omitempty" db:"suggested_location"`
	Message           *string      `json:"message,omitempty" db:"message"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
}

// appointmentEvent drives the state machine.
type appointmentEvent string

const (
	eventAccept            appointmentEvent = "accept"
	eventDecline           appointmentEvent = "decline"
	eventSuggest           appointmentEvent = "suggest_alternative"
	eventResuggest         appointmentEvent = "resuggest"
	eventAcceptAlternative appointmentEvent = "accept_alternative"
)

type appointmentState struct {
	status   AppointmentStatus
	response ResponseStatus
}

// appointmentTransitions is the complete table. Any pair not listed is rejected.
var appointmentTransitions = map[ResponseStatus]map[appointmentEvent]appointmentState{
	ResponsePending: {
		eventAccept:  {AppointmentConfirmed, ResponseAccepted},
		eventDecline: {AppointmentDeclined, ResponseDeclined},
		eventSuggest: {AppointmentRescheduled, ResponseAltSuggested},
	},
	ResponseAltSuggested: {
		eventResuggest:         {AppointmentRescheduled, ResponseAltSuggested},
		eventAcceptAlternative: {AppointmentConfirmed, ResponseAccepted},
	},
}

// transition is the only writer of the Status/ResponseStatus pair.
func (a *Appointment) transition(ev appointmentEvent, actor uuid.UUID, now time.Time) error {
	next, ok := appointmentTransitions[a.ResponseStatus][ev]
	if !ok {
		return apperr.Precondition(apperr.CodeAppointmentNotRespondable,
			"cannot %s an appointment whose response is %s", ev, a.ResponseStatus)
	}
	a.Status = next.status
	a.ResponseStatus = next.response
	a.RespondedAt = &now
	a.RespondedBy = &actor
	a.UpdatedAt = now
	a.Version++
	return nil
}

// Respond applies the invitee's first reply. resp must already carry the responder, type
// and suggestion.
func (a *Appointment) Respond(resp *AppointmentResponse, now time.Time) error {
	if resp.ResponderID != a.ScheduledWith {
		return apperr.Precondition(apperr.CodeAppointmentNotRespondable, "only the invitee can respond")
	}
	if a.ResponseStatus != ResponsePending {
		return apperr.Precondition(apperr.CodeAppointmentNotRespondable, "appointment already %s", a.ResponseStatus)
	}

	var ev appointmentEvent
	switch resp.ResponseType {
	case ResponseTypeAccept:
		ev = eventAccept
	case ResponseTypeDecline:
		ev = eventDecline
	case ResponseTypeSuggestAlternative:
		if resp.SuggestedDate == nil || resp.SuggestedDate.IsZero() {
			return apperr.Precondition(apperr.CodeMissingSuggestion, "suggest_alternative requires a suggested date")
		}
		ev = eventSuggest
	default:
		return apperr.Validation("InvalidResponseType", "unknown response type %q", resp.ResponseType)
	}

	if err := a.transition(ev, resp.ResponderID, now); err != nil {
		return err
	}
	a.ResponseMessage = resp.Message
	return nil
}

// Resuggest records another counter-proposal round. latest is the current authoritative
// suggestion; turns alternate, so its author cannot suggest again.
func (a *Appointment) Resuggest(resp *AppointmentResponse, latest *AppointmentResponse, now time.Time) error {
	if resp.ResponderID != a.ScheduledBy && resp.ResponderID != a.ScheduledWith {
		return apperr.ErrNotParticipant
	}
	if resp.SuggestedDate == nil || resp.SuggestedDate.IsZero() {
		return apperr.Precondition(apperr.CodeMissingSuggestion, "a counter-suggestion requires a date")
	}
	if latest != nil && latest.ResponderID == resp.ResponderID {
		return apperr.Precondition(apperr.CodeAppointmentNotRespondable, "waiting for the other participant to answer your suggestion")
	}
	if err := a.transition(eventResuggest, resp.ResponderID, now); err != nil {
		return err
	}
	a.ResponseMessage = resp.Message
	return nil
}

// AcceptAlternative adopts suggestion, overwriting only the date and location.
func (a *Appointment) AcceptAlternative(suggestion *AppointmentResponse, acceptor uuid.UUID, now time.Time) error {
	if suggestion.AppointmentID != a.ID || suggestion.ResponseType != ResponseTypeSuggestAlternative {
		return apperr.Precondition(apperr.CodeAppointmentNotRespondable, "response is not a suggestion for this appointment")
	}
	if acceptor == suggestion.ResponderID {
		return apperr.Precondition(apperr.CodeAppointmentNotRespondable, "cannot accept your own suggestion")
	}
	if acceptor != a.ScheduledBy && acceptor != a.ScheduledWith {
		return apperr.ErrNotParticipant
	}
	if suggestion.SuggestedDate == nil {
		return apperr.Precondition(apperr.CodeMissingSuggestion, "suggestion has no date")
	}
	if err := a.transition(eventAcceptAlternative, acceptor, now); err != nil {
		return err
	}
	a.AppointmentDate = *suggestion.SuggestedDate
	a.Location = suggestion.SuggestedLocation
	return nil
}

// Confirmed reports whether the meeting is settled enough to export to a calendar.
func (a *Appointment) Confirmed() bool {
	return a.Status == AppointmentConfirmed || a.ResponseStatus == ResponseAccepted
}

// Narrative is the system-message text for the appointment's current state.
func (a *Appointment) Narrative() string {
	when := a.AppointmentDate.Format("Mon Jan 2, 2006 at 3:04 PM")
	switch a.Status {
	case AppointmentScheduled:
		return withLocation("Scheduled an appointment for "+when, a.Location)
	case AppointmentConfirmed:
		return withLocation("Appointment confirmed for "+when, a.Location)
	case AppointmentDeclined:
		return "Appointment declined"
	case AppointmentRescheduled:
		return "Suggested an alternative time"
	}
	return fmt.Sprintf("Appointment %s", a.Status)
}

func withLocation(s string, location *string) string {
	if location != nil && *location != "" {
		return s + " at " + *location
	}
	return s
}

// CalendarEvent is the read-only projection consumed by an external "add to calendar"
// integration.
type CalendarEvent struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// CalendarEvent projects a confirmed appointment. listingTitle may be empty.
func (a *Appointment) CalendarEvent(listingTitle string) (*CalendarEvent, error) {
	if !a.Confirmed() {
		return nil, apperr.Precondition(apperr.CodeCalendarUnavailable, "appointment is not confirmed")
	}
	title := "Vehicle viewing"
	if listingTitle != "" {
		title = "Viewing: " + listingTitle
	}
	ev := &CalendarEvent{
		Title:       title,
		Description: "Meeting arranged through marketplace chat",
		Start:       a.AppointmentDate,
		End:         a.AppointmentDate.Add(time.Hour),
	}
	if a.Notes != nil && *a.Notes != "" {
		ev.Description += "\n\n" + *a.Notes
	}
	if a.Location != nil {
		ev.Location = *a.Location
	}
	return ev, nil
}

type ScheduleAppointmentRequest struct {
	AppointmentDate time.Time `json:"appointment_date" binding:"required"`
	Location        *string   `json:"location,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

type RespondAppointmentRequest struct {
	ResponseType      string     `json:"response_type" binding:"required"`
	Message           *string    `json:"message,omitempty"`
	SuggestedDate     *time.Time `json:"suggested_date,omitempty"`
	SuggestedLocation *string    `json:"suggested_location,omitempty"`
}

type SuggestAlternativeRequest struct {
	SuggestedDate     time.Time `json:"suggested_date" binding:"required"`
	SuggestedLocation *string   `json:"suggested_location,omitempty"`
	Message           *string   `json:"message,omitempty"`
}
