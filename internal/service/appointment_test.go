package service

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tullo/bazaar/internal/apperr"
	"github.com/tullo/bazaar/internal/models"
)

var (
	march1  = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	march2  = time.Date(2025, 3, 2, 14, 0, 0, 0, time.UTC)
	march3  = time.Date(2025, 3, 3, 16, 0, 0, 0, time.UTC)
	meetAtA = "Dealer lot"
)

func (h *harness) schedule() *models.Appointment {
	h.t.Helper()
	appt, err := h.appointments.ScheduleAppointment(h.ctx, h.conv.ID, h.buyer, ScheduleInput{
		Date:     march1,
		Location: strPtr(meetAtA),
		Notes:    strPtr("Bring the service records"),
	})
	require.NoError(h.t, err)
	return appt
}

func TestScheduleAppointment_RoundTrip(t *testing.T) {
	h := newHarness(t)
	appt := h.schedule()

	got, err := h.appointments.GetAppointment(h.ctx, appt.ID, h.seller)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentScheduled, got.Status)
	assert.Equal(t, models.ResponsePending, got.ResponseStatus)
	assert.Equal(t, h.seller, got.ScheduledWith)
	assert.Equal(t, march1, got.AppointmentDate)

	notes := h.notificationsFor(h.seller)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationNewAppointment, notes[0].Type)
	data := notes[0].Data.(models.NewAppointmentData)
	assert.Equal(t, appt.ID, data.AppointmentID)
	assert.Equal(t, h.conv.ListingID, data.ListingID)
	assert.Empty(t, h.notificationsFor(h.buyer))
}

func TestScheduleAppointment_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.appointments.ScheduleAppointment(h.ctx, h.conv.ID, h.buyer, ScheduleInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = h.appointments.ScheduleAppointment(h.ctx, h.conv.ID, h.buyer, ScheduleInput{Date: h.clock().Add(-time.Hour)})
	assert.Equal(t, "DateInPast", apperr.CodeOf(err))

	_, err = h.appointments.ScheduleAppointment(h.ctx, h.conv.ID, h.buyer, ScheduleInput{Date: h.clock().Add(-30 * time.Second)})
	assert.NoError(t, err, "small clock skew is tolerated")

	_, err = h.appointments.ScheduleAppointment(h.ctx, h.conv.ID, uuid.New(), ScheduleInput{Date: march1})
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)
}

func TestScenarioA_AcceptConfirms(t *testing.T) {
	h := newHarness(t)
	appt := h.schedule()
	before := len(h.systemMessages())

	got, resp, err := h.appointments.RespondToAppointment(h.ctx, appt.ID, h.seller, RespondInput{Type: models.ResponseTypeAccept})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentConfirmed, got.Status)
	assert.Equal(t, models.ResponseAccepted, got.ResponseStatus)
	assert.Equal(t, h.seller, *got.RespondedBy)
	assert.Equal(t, models.ResponseTypeAccept, resp.ResponseType)

	system := h.systemMessages()
	require.Len(t, system, before+1)
	assert.Contains(t, system[len(system)-1].Content, "confirmed")

	notes := h.notificationsFor(h.buyer)
	require.Len(t, notes, 1)
	assert.Equal(t, "Appointment Confirmed", notes[0].Title)
	assert.Equal(t, models.AppointmentConfirmed, notes[0].Data.(models.AppointmentResponseData).Status)
}

func TestScenarioB_SuggestThenAcceptAlternative(t *testing.T) {
	h := newHarness(t)
	appt := h.schedule()

	got, suggestion, err := h.appointments.RespondToAppointment(h.ctx, appt.ID, h.seller, RespondInput{
		Type:              models.ResponseTypeSuggestAlternative,
		SuggestedDate:     &march2,
		SuggestedLocation: strPtr("Coffee shop on Main"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentRescheduled, got.Status)
	assert.Equal(t, models.ResponseAltSuggested, got.ResponseStatus)
	assert.Equal(t, march1, got.AppointmentDate, "suggestion must not touch the appointment")

	accepted, err := h.appointments.AcceptAlternative(h.ctx, suggestion.ID, h.buyer)
	require.NoError(t, err)
	assert.Equal(t, march2, accepted.AppointmentDate)
	assert.Equal(t, "Coffee shop on Main", *accepted.Location)
	assert.Equal(t, "Bring the service records", *accepted.Notes)
	assert.Equal(t, models.AppointmentConfirmed, accepted.Status)
	assert.Equal(t, models.ResponseAccepted, accepted.ResponseStatus)

	sellerNotes := h.notificationsFor(h.seller)
	var titles []string
	for _, n := range sellerNotes {
		titles = append(titles, n.Title)
	}
	assert.Contains(t, titles, "Alternative Time Accepted")

	ev, err := h.appointments.CalendarEvent(h.ctx, appt.ID, h.seller)
	require.NoError(t, err)
	assert.Equal(t, march2, ev.Start)
	assert.Equal(t, march2.Add(time.Hour), ev.End)
	assert.Equal(t, "Viewing: 2019 Honda Civic", ev.Title)
}

func TestScenarioD_DuplicateResponsesTransitionOnce(t *testing.T) {
	h := newHarness(t)
	appt := h.schedule()
	h.drain()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = h.appointments.RespondToAppointment(h.ctx, appt.ID, h.seller, RespondInput{Type: models.ResponseTypeAccept})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrAppointmentNotRespondable)
	}
	assert.Equal(t, 1, succeeded)

	notes := h.notificationsFor(h.buyer)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationAppointmentResponse, notes[0].Type)

	responses, err := h.appointments.ListResponses(h.ctx, appt.ID, h.buyer)
	require.NoError(t, err)
	assert.Len(t, responses, 1)
}

func TestRespondToAppointment_Preconditions(t *testing.T) {
	h := newHarness(t)
	appt := h.schedule()

	_, _, err := h.appointments.RespondToAppointment(h.ctx, appt.ID, h.buyer, RespondInput{Type: models.ResponseTypeAccept})
	assert.ErrorIs(t, err, apperr.ErrAppointmentNotRespondable, "scheduler cannot answer their own request")

	_, _, err = h.appointments.RespondToAppointment(h.ctx, appt.ID, h.seller, RespondInput{Type: models.ResponseTypeSuggestAlternative})
	assert.ErrorIs(t, err, apperr.ErrMissingSuggestion)

	_, _, err = h.appointments.RespondToAppointment(h.ctx, appt.ID, h.seller, RespondInput{Type: "maybe"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, _, err = h.appointments.RespondToAppointment(h.ctx, uuid.New(), h.seller, RespondInput{Type: models.ResponseTypeAccept})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	got, err := h.appointments.GetAppointment(h.ctx, appt.ID, h.buyer)
	require.NoError(t, err)
	assert.Equal(t, models.ResponsePending, got.ResponseStatus)
	assert.Equal(t, 1, got.Version)

	responses, err := h.appointments.ListResponses(h.ctx, appt.ID, h.buyer)
	require.NoError(t, err)
	assert.Empty(t, responses, "failed replies leave no rows behind")
}

func TestDeclineIsTerminal(t *testing.T) {
	h := newHarness(t)
	appt := h.schedule()

	got, _, err := h.appointments.RespondToAppointment(h.ctx, appt.ID, h.seller, RespondInput{Type: models.ResponseTypeDecline, Message: strPtr("Sold already")})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentDeclined, got.Status)
	assert.Equal(t, "Sold already", *got.ResponseMessage)

	_, err = h.appointments.CalendarEvent(h.ctx, appt.ID, h.buyer)
	assert.ErrorIs(t, err, apperr.ErrCalendarUnavailable)

	_, _, err = h.appointments.SuggestAnotherTime(h.ctx, appt.ID, h.buyer, SuggestInput{Date: march2})
	assert.ErrorIs(t, err, apperr.ErrAppointmentNotRespondable)
}

func TestRepeatedSuggestions_LatestIsAuthoritative(t *testing.T) {
	h := newHarness(t)
	appt := h.schedule()

	_, first, err := h.appointments.RespondToAppointment(h.ctx, appt.ID, h.seller, RespondInput{
		Type:          models.ResponseTypeSuggestAlternative,
		SuggestedDate: &march2,
	})
	require.NoError(t, err)

	_, _, err = h.appointments.SuggestAnotherTime(h.ctx, appt.ID, h.seller, SuggestInput{Date: march3})
	assert.ErrorIs(t, err, apperr.ErrAppointmentNotRespondable, "the same side cannot suggest twice in a row")

	h.advance(time.Minute)
	got, second, err := h.appointments.SuggestAnotherTime(h.ctx, appt.ID, h.buyer, SuggestInput{Date: march3, Location: strPtr("Library")})
	require.NoError(t, err)
	assert.Equal(t, models.ResponseAltSuggested, got.ResponseStatus)

	latest, err := h.appointments.LatestSuggestion(h.ctx, appt.ID, h.seller)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = h.appointments.AcceptAlternative(h.ctx, first.ID, h.buyer)
	assert.ErrorIs(t, err, apperr.ErrSuggestionSuperseded)

	_, err = h.appointments.AcceptAlternative(h.ctx, second.ID, h.buyer)
	assert.ErrorIs(t, err, apperr.ErrAppointmentNotRespondable, "cannot accept your own suggestion")

	accepted, err := h.appointments.AcceptAlternative(h.ctx, second.ID, h.seller)
	require.NoError(t, err)
	assert.Equal(t, march3, accepted.AppointmentDate)
	assert.Equal(t, "Library", *accepted.Location)

	_, err = h.appointments.AcceptAlternative(h.ctx, second.ID, h.seller)
	assert.ErrorIs(t, err, apperr.ErrAppointmentNotRespondable)
}

func TestAppointmentOperations_ExactlyOneNotificationEach(t *testing.T) {
	h := newHarness(t)
	count := func(user uuid.UUID) int { return len(h.notificationsFor(user)) }

	appt := h.schedule()
	assert.Equal(t, 1, count(h.seller))
	assert.Equal(t, 0, count(h.buyer))

	_, suggestion, err := h.appointments.RespondToAppointment(h.ctx, appt.ID, h.seller, RespondInput{
		Type:          models.ResponseTypeSuggestAlternative,
		SuggestedDate: &march2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(h.seller))
	assert.Equal(t, 1, count(h.buyer))

	_, err = h.appointments.AcceptAlternative(h.ctx, suggestion.ID, h.buyer)
	require.NoError(t, err)
	assert.Equal(t, 2, count(h.seller))
	assert.Equal(t, 1, count(h.buyer))

	_, err = h.appointments.AcceptAlternative(h.ctx, suggestion.ID, h.buyer)
	require.Error(t, err)
	assert.Equal(t, 2, count(h.seller))
}
