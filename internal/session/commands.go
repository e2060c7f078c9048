package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/service"
)

// Commands are sent once. A failure is returned as is: the caller decides whether to
// Refresh and try again.

func (s *Session) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	msg, err := s.svc.Conversations.SendMessage(ctx, s.conversationID, s.userID, content)
	if err != nil {
		return nil, err
	}
	s.putMessage(*msg)
	return msg, nil
}

func (s *Session) SendPhoto(ctx context.Context, in service.PhotoInput) (*models.Message, error) {
	msg, err := s.svc.Conversations.SendPhoto(ctx, s.conversationID, s.userID, in)
	if err != nil {
		return nil, err
	}
	s.putMessage(*msg)
	return msg, nil
}

func (s *Session) MakeOffer(ctx context.Context, in service.MakeOfferInput) (*models.Offer, error) {
	offer, err := s.svc.Offers.MakeOffer(ctx, s.conversationID, s.userID, in)
	if err != nil {
		return nil, err
	}
	s.putOffer(*offer)
	return offer, nil
}

func (s *Session) RespondToOffer(ctx context.Context, offerID uuid.UUID, status models.OfferStatus) (*models.Offer, error) {
	offer, err := s.svc.Offers.RespondToOffer(ctx, offerID, s.userID, status)
	if err != nil {
		return nil, err
	}
	s.putOffer(*offer)
	return offer, nil
}

func (s *Session) Schedule(ctx context.Context, in service.ScheduleInput) (*models.Appointment, error) {
	appt, err := s.svc.Appointments.ScheduleAppointment(ctx, s.conversationID, s.userID, in)
	if err != nil {
		return nil, err
	}
	s.putAppointment(*appt, nil)
	return appt, nil
}

func (s *Session) RespondToAppointment(ctx context.Context, appointmentID uuid.UUID, in service.RespondInput) (*models.Appointment, error) {
	appt, resp, err := s.svc.Appointments.RespondToAppointment(ctx, appointmentID, s.userID, in)
	if err != nil {
		return nil, err
	}
	s.putAppointment(*appt, resp)
	return appt, nil
}

func (s *Session) SuggestAnotherTime(ctx context.Context, appointmentID uuid.UUID, in service.SuggestInput) (*models.Appointment, error) {
	appt, resp, err := s.svc.Appointments.SuggestAnotherTime(ctx, appointmentID, s.userID, in)
	if err != nil {
		return nil, err
	}
	s.putAppointment(*appt, resp)
	return appt, nil
}

func (s *Session) AcceptAlternative(ctx context.Context, responseID uuid.UUID) (*models.Appointment, error) {
	appt, err := s.svc.Appointments.AcceptAlternative(ctx, responseID, s.userID)
	if err != nil {
		return nil, err
	}
	s.putAppointment(*appt, nil)
	return appt, nil
}

// MarkRead marks the counterpart's messages read, locally as well as in the store. Local
// copies carry the store's read time.
func (s *Session) MarkRead(ctx context.Context) (int64, error) {
	receipt, err := s.svc.Conversations.MarkReadReceipt(ctx, s.conversationID, s.userID)
	if err != nil {
		return 0, err
	}
	if receipt.Count > 0 {
		s.mu.Lock()
		s.markRead(s.userID, receipt.ReadAt)
		s.mu.Unlock()
	}
	return receipt.Count, nil
}

func (s *Session) CalendarEvent(ctx context.Context, appointmentID uuid.UUID) (*models.CalendarEvent, error) {
	return s.svc.Appointments.CalendarEvent(ctx, appointmentID, s.userID)
}

func (s *Session) putMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		s.messages[m.ID] = m
	}
}

func (s *Session) putOffer(o models.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.offers[o.ID]; !ok || o.Version > cur.Version {
		s.offers[o.ID] = o
	}
}

func (s *Session) putAppointment(a models.Appointment, resp *models.AppointmentResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.appointments[a.ID]; !ok || a.Version > cur.Version {
		s.appointments[a.ID] = a
	}
	if resp != nil {
		s.responses[resp.ID] = *resp
	}
}

// UserMessage turns an engine error into text fit for the person using the session.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeOfferNotRespondable:
		return "This offer has already been answered."
	case apperr.CodeOfferExpired:
		return "This offer has expired."
	case apperr.CodeAppointmentNotRespondable:
		return "This appointment has already been answered."
	case apperr.CodeMissingSuggestion:
		return "Pick a date to suggest."
	case apperr.CodeSuggestionSuperseded:
		return "A newer time was suggested. Check the latest suggestion."
	case apperr.CodeCalendarUnavailable:
		return "Only confirmed appointments can be added to a calendar."
	case apperr.CodeNotParticipant:
		return "You are not part of this conversation."
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		var e *apperr.Error
		if errors.As(err, &e) && e.Message != "" {
			return e.Message
		}
		return "Check your input and try again."
	case apperr.KindNotFound:
		return "This item no longer exists."
	case apperr.KindTransport:
		return "Connection problem. Try again in a moment."
	}
	return "Something went wrong."
}
