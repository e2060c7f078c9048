package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
	"github.com/tullo/bazaar/internal/repository"
	"github.com/tullo/bazaar/pkg/metrics"
	"go.uber.org/zap"
)

type ScheduleInput struct {
	Date     time.Time
	Location *string
	Notes    *string
}

type RespondInput struct {
	Type              models.ResponseType
	Message           *string
	SuggestedDate     *time.Time
	SuggestedLocation *string
}

type SuggestInput struct {
	Date     time.Time
	Location *string
	Message  *string
}

// AppointmentService is the appointment scheduling engine. All status changes go through
// the transition table on models.Appointment.
type AppointmentService struct {
	engine
}

func NewAppointmentService(d Deps) *AppointmentService {
	return &AppointmentService{engine: newEngine(d)}
}

func (s *AppointmentService) checkFuture(t time.Time) error {
	if t.IsZero() {
		return apperr.Validation("MissingDate", "appointment date is required")
	}
	if t.Before(s.now().Add(-scheduleSkew)) {
		return apperr.Validation("DateInPast", "appointment date %s is in the past", t.Format(time.RFC3339))
	}
	return nil
}

// ScheduleAppointment proposes a meeting to the other participant.
func (s *AppointmentService) ScheduleAppointment(ctx context.Context, conversationID, schedulerID uuid.UUID, in ScheduleInput) (*models.Appointment, error) {
	if err := s.checkFuture(in.Date); err != nil {
		return nil, err
	}

	var appt *models.Appointment
	err := s.commit(ctx, func(tx repository.Tx) error {
		conv, err := conversationFor(ctx, tx, conversationID, schedulerID)
		if err != nil {
			return err
		}
		invitee, _ := conv.Counterpart(schedulerID)

		now := s.now()
		appt = &models.Appointment{
			ID:              uuid.New(),
			ConversationID:  conv.ID,
			ListingID:       conv.ListingID,
			ScheduledBy:     schedulerID,
			ScheduledWith:   invitee,
			AppointmentDate: in.Date.UTC(),
			Location:        in.Location,
			Notes:           in.Notes,
			Status:          models.AppointmentScheduled,
			ResponseStatus:  models.ResponsePending,
			CreatedAt:       now,
			UpdatedAt:       now,
			Version:         1,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return err
		}
		if _, err := appendSystemMessage(ctx, tx, conv, schedulerID, appt.Narrative(), now); err != nil {
			return err
		}

		draft, err := models.NewNotificationDraft(invitee, "New Appointment Request", appt.Narrative(),
			models.NewAppointmentData{
				ConversationID:  conv.ID,
				ListingID:       conv.ListingID,
				AppointmentID:   appt.ID,
				AppointmentDate: appt.AppointmentDate,
			})
		if err != nil {
			return err
		}
		return stage(ctx, tx, conv, models.TopicAppointmentNew, appt.ID, schedulerID, appt.Version, appt, draft, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.AppointmentTransitionsTotal.WithLabelValues("schedule", string(appt.Status)).Inc()
	s.logger.Info("appointment scheduled",
		zap.String("conversation_id", conversationID.String()),
		zap.String("appointment_id", appt.ID.String()))
	return appt, nil
}

// RespondToAppointment applies the invitee's reply to a pending appointment. The response
// row and the appointment update commit together or not at all.
func (s *AppointmentService) RespondToAppointment(ctx context.Context, appointmentID, responderID uuid.UUID, in RespondInput) (*models.Appointment, *models.AppointmentResponse, error) {
	if !in.Type.Valid() {
		return nil, nil, apperr.Validation("InvalidResponseType", "unknown response type %q", in.Type)
	}
	if in.Type == models.ResponseTypeSuggestAlternative && in.SuggestedDate != nil {
		if err := s.checkFuture(*in.SuggestedDate); err != nil {
			return nil, nil, err
		}
	}

	var (
		appt *models.Appointment
		resp *models.AppointmentResponse
	)
	err := s.commit(ctx, func(tx repository.Tx) error {
		var err error
		appt, err = tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		conv, err := conversationFor(ctx, tx, appt.ConversationID, responderID)
		if err != nil {
			return err
		}

		now := s.now()
		resp = &models.AppointmentResponse{
			ID:                uuid.New(),
			AppointmentID:     appt.ID,
			ResponderID:       responderID,
			ResponseType:      in.Type,
			SuggestedDate:     utcPtr(in.SuggestedDate),
			SuggestedLocation: in.SuggestedLocation,
			Message:           in.Message,
			CreatedAt:         now,
		}
		if in.Type != models.ResponseTypeSuggestAlternative {
			resp.SuggestedDate, resp.SuggestedLocation = nil, nil
		}
		if err := appt.Respond(resp, now); err != nil {
			return err
		}

		return s.persistResponse(ctx, tx, conv, appt, resp, responderID, responseTitle(in.Type), now)
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.AppointmentTransitionsTotal.WithLabelValues(string(in.Type), string(appt.Status)).Inc()
	return appt, resp, nil
}

// SuggestAnotherTime adds a further counter-proposal while an alternative is on the table.
// Participants take turns; the latest suggestion is the one that can be accepted.
func (s *AppointmentService) SuggestAnotherTime(ctx context.Context, appointmentID, actorID uuid.UUID, in SuggestInput) (*models.Appointment, *models.AppointmentResponse, error) {
	if err := s.checkFuture(in.Date); err != nil {
		return nil, nil, err
	}

	var (
		appt *models.Appointment
		resp *models.AppointmentResponse
	)
	err := s.commit(ctx, func(tx repository.Tx) error {
		var err error
		appt, err = tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		conv, err := conversationFor(ctx, tx, appt.ConversationID, actorID)
		if err != nil {
			return err
		}
		latest, err := tx.LatestSuggestion(ctx, appt.ID)
		if err != nil {
			return err
		}

		now := s.now()
		date := in.Date.UTC()
		resp = &models.AppointmentResponse{
			ID:                uuid.New(),
			AppointmentID:     appt.ID,
			ResponderID:       actorID,
			ResponseType:      models.ResponseTypeSuggestAlternative,
			SuggestedDate:     &date,
			SuggestedLocation: in.Location,
			Message:           in.Message,
			CreatedAt:         now,
		}
		if err := appt.Resuggest(resp, latest, now); err != nil {
			return err
		}

		return s.persistResponse(ctx, tx, conv, appt, resp, actorID, "Alternative Time Suggested", now)
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.AppointmentTransitionsTotal.WithLabelValues("resuggest", string(appt.Status)).Inc()
	return appt, resp, nil
}

// persistResponse writes a response row and the appointment it changed, narrates it and
// notifies the participant who did not act.
func (s *AppointmentService) persistResponse(ctx context.Context, tx repository.Tx, conv *models.Conversation, appt *models.Appointment, resp *models.AppointmentResponse, actorID uuid.UUID, title string, now time.Time) error {
	if err := tx.CreateAppointmentResponse(ctx, resp); err != nil {
		return err
	}
	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		return err
	}

	text := appt.Narrative()
	if resp.ResponseType == models.ResponseTypeSuggestAlternative {
		text = suggestionNarrative(resp)
	}
	if _, err := appendSystemMessage(ctx, tx, conv, actorID, text, now); err != nil {
		return err
	}
	if err := stage(ctx, tx, conv, models.TopicAppointmentResponseNew, resp.ID, actorID, 1, resp, nil, now); err != nil {
		return err
	}

	recipient, _ := conv.Counterpart(actorID)
	responseID := resp.ID
	draft, err := models.NewNotificationDraft(recipient, title, text, models.AppointmentResponseData{
		ConversationID: conv.ID,
		ListingID:      conv.ListingID,
		AppointmentID:  appt.ID,
		ResponseID:     &responseID,
		Status:         appt.Status,
	})
	if err != nil {
		return err
	}
	return stage(ctx, tx, conv, models.TopicAppointmentUpdated, appt.ID, actorID, appt.Version, appt, draft, now)
}

// AcceptAlternative adopts a suggested date and location. The appointment is re-read under
// its row lock so a concurrent counter-suggestion either lands first and supersedes this
// one, or waits and then finds the appointment settled.
func (s *AppointmentService) AcceptAlternative(ctx context.Context, responseID, acceptorID uuid.UUID) (*models.Appointment, error) {
	var appt *models.Appointment
	err := s.commit(ctx, func(tx repository.Tx) error {
		suggestion, err := tx.GetAppointmentResponse(ctx, responseID)
		if err != nil {
			return err
		}
		appt, err = tx.GetAppointmentForUpdate(ctx, suggestion.AppointmentID)
		if err != nil {
			return err
		}
		conv, err := conversationFor(ctx, tx, appt.ConversationID, acceptorID)
		if err != nil {
			return err
		}

		if appt.ResponseStatus == models.ResponseAltSuggested {
			latest, err := tx.LatestSuggestion(ctx, appt.ID)
			if err != nil {
				return err
			}
			if latest != nil && latest.ID != suggestion.ID {
				return apperr.Precondition(apperr.CodeSuggestionSuperseded, "a newer suggestion replaced this one")
			}
		}

		now := s.now()
		if err := appt.AcceptAlternative(suggestion, acceptorID, now); err != nil {
			return err
		}
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}

		text := appt.Narrative()
		if _, err := appendSystemMessage(ctx, tx, conv, acceptorID, text, now); err != nil {
			return err
		}

		responseID := suggestion.ID
		draft, err := models.NewNotificationDraft(suggestion.ResponderID, "Alternative Time Accepted", text,
			models.AppointmentResponseData{
				ConversationID: conv.ID,
				ListingID:      conv.ListingID,
				AppointmentID:  appt.ID,
				ResponseID:     &responseID,
				Status:         appt.Status,
			})
		if err != nil {
			return err
		}
		return stage(ctx, tx, conv, models.TopicAppointmentUpdated, appt.ID, acceptorID, appt.Version, appt, draft, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.AppointmentTransitionsTotal.WithLabelValues("accept_alternative", string(appt.Status)).Inc()
	return appt, nil
}

func (s *AppointmentService) GetAppointment(ctx context.Context, appointmentID, userID uuid.UUID) (*models.Appointment, error) {
	appt, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if _, err := conversationFor(ctx, s.store, appt.ConversationID, userID); err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *AppointmentService) ListAppointments(ctx context.Context, conversationID, userID uuid.UUID) ([]models.Appointment, error) {
	if _, err := conversationFor(ctx, s.store, conversationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListAppointments(ctx, conversationID)
}

// ListResponses returns the appointment's replies oldest first. Only the last suggestion
// is actionable; earlier ones are history.
func (s *AppointmentService) ListResponses(ctx context.Context, appointmentID, userID uuid.UUID) ([]models.AppointmentResponse, error) {
	if _, err := s.GetAppointment(ctx, appointmentID, userID); err != nil {
		return nil, err
	}
	return s.store.ListAppointmentResponses(ctx, appointmentID)
}

// LatestSuggestion returns the authoritative counter-proposal, or nil if there is none.
func (s *AppointmentService) LatestSuggestion(ctx context.Context, appointmentID, userID uuid.UUID) (*models.AppointmentResponse, error) {
	if _, err := s.GetAppointment(ctx, appointmentID, userID); err != nil {
		return nil, err
	}
	return s.store.LatestSuggestion(ctx, appointmentID)
}

// CalendarEvent projects a confirmed appointment for an external calendar integration.
func (s *AppointmentService) CalendarEvent(ctx context.Context, appointmentID, userID uuid.UUID) (*models.CalendarEvent, error) {
	appt, err := s.GetAppointment(ctx, appointmentID, userID)
	if err != nil {
		return nil, err
	}
	if !appt.Confirmed() {
		return appt.CalendarEvent("")
	}
	return appt.CalendarEvent(s.listingTitle(ctx, appt.ListingID))
}

func responseTitle(t models.ResponseType) string {
	switch t {
	case models.ResponseTypeAccept:
		return "Appointment Confirmed"
	case models.ResponseTypeDecline:
		return "Appointment Declined"
	default:
		return "Alternative Time Suggested"
	}
}

func suggestionNarrative(resp *models.AppointmentResponse) string {
	text := "Suggested an alternative time: " + resp.SuggestedDate.Format("Mon Jan 2, 2006 at 3:04 PM")
	if resp.SuggestedLocation != nil && *resp.SuggestedLocation != "" {
		text += " at " + *resp.SuggestedLocation
	}
	return text
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
