package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/models"
)

const appointmentColumns = `id, conversation_id, listing_id, scheduled_by, scheduled_with, appointment_date,
	location, notes, status, response_status, response_message, responded_at, responded_by,
	created_at, updated_at, version`

const responseColumns = `id, appointment_id, responder_id, response_type, suggested_date,
	suggested_location, message, created_at`

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	a := &models.Appointment{}
	err := row.Scan(
		&a.ID,
		&a.ConversationID,
		&a.ListingID,
		&a.ScheduledBy,
		&a.ScheduledWith,
		&a.AppointmentDate,
		&a.Location,
		&a.Notes,
		&a.Status,
		&a.ResponseStatus,
		&a.ResponseMessage,
		&a.RespondedAt,
		&a.RespondedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Version,
	)
	return a, err
}

func scanResponse(row rowScanner) (*models.AppointmentResponse, error) {
	r := &models.AppointmentResponse{}
	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.ResponderID,
		&r.ResponseType,
		&r.SuggestedDate,
		&r.SuggestedLocation,
		&r.Message,
		&r.CreatedAt,
	)
	return r, err
}

func (r *queries) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	query := `
		INSERT INTO appointments (id, conversation_id, listing_id, scheduled_by, scheduled_with,
			appointment_date, location, notes, status, response_status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.q.ExecContext(ctx, query,
		a.ID,
		a.ConversationID,
		a.ListingID,
		a.ScheduledBy,
		a.ScheduledWith,
		a.AppointmentDate,
		a.Location,
		a.Notes,
		a.Status,
		a.ResponseStatus,
		a.CreatedAt,
		a.UpdatedAt,
		a.Version,
	)
	return dbError(err, "Appointment", "create")
}

func (r *queries) GetAppointment(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	a, err := scanAppointment(r.q.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, dbError(err, "Appointment", "get")
	}
	return a, nil
}

// GetAppointmentForUpdate reads the appointment and holds its row lock until the
// transaction ends.
func (r *queries) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	a, err := scanAppointment(r.q.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, dbError(err, "Appointment", "lock")
	}
	return a, nil
}

// UpdateAppointment writes the status pair together with the fields a transition may
// touch, guarded by the version read under lock.
func (r *queries) UpdateAppointment(ctx context.Context, a *models.Appointment) error {
	query := `
		UPDATE appointments
		SET appointment_date = $2,
			location = $3,
			status = $4,
			response_status = $5,
			response_message = $6,
			responded_at = $7,
			responded_by = $8,
			updated_at = $9,
			version = $10
		WHERE id = $1 AND version = $10 - 1
	`

	res, err := r.q.ExecContext(ctx, query,
		a.ID,
		a.AppointmentDate,
		a.Location,
		a.Status,
		a.ResponseStatus,
		a.ResponseMessage,
		a.RespondedAt,
		a.RespondedBy,
		a.UpdatedAt,
		a.Version,
	)
	if err != nil {
		return dbError(err, "Appointment", "update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "Appointment", "update")
	}
	if n == 0 {
		return errStaleWrite("Appointment")
	}
	return nil
}

func (r *queries) ListAppointments(ctx context.Context, conversationID uuid.UUID) ([]models.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE conversation_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.q.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, dbError(err, "Appointment", "list")
	}
	defer rows.Close()

	appointments := []models.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, dbError(err, "Appointment", "scan")
		}
		appointments = append(appointments, *a)
	}
	return appointments, dbError(rows.Err(), "Appointment", "list")
}

// CreateAppointmentResponse appends a response row. created_at is clamped past the
// previous row so the latest suggestion is unambiguous.
func (r *queries) CreateAppointmentResponse(ctx context.Context, resp *models.AppointmentResponse) error {
	var last *time.Time
	err := r.q.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM appointment_responses WHERE appointment_id = $1`,
		resp.AppointmentID,
	).Scan(&last)
	if err != nil {
		return dbError(err, "AppointmentResponse", "create")
	}
	resp.CreatedAt = nextCreatedAt(resp.CreatedAt, last)

	query := `
		INSERT INTO appointment_responses (id, appointment_id, responder_id, response_type,
			suggested_date, suggested_location, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.q.ExecContext(ctx, query,
		resp.ID,
		resp.AppointmentID,
		resp.ResponderID,
		resp.ResponseType,
		resp.SuggestedDate,
		resp.SuggestedLocation,
		resp.Message,
		resp.CreatedAt,
	)
	return dbError(err, "AppointmentResponse", "create")
}

func (r *queries) GetAppointmentResponse(ctx context.Context, id uuid.UUID) (*models.AppointmentResponse, error) {
	resp, err := scanResponse(r.q.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM appointment_responses WHERE id = $1`, id))
	if err != nil {
		return nil, dbError(err, "AppointmentResponse", "get")
	}
	return resp, nil
}

func (r *queries) ListAppointmentResponses(ctx context.Context, appointmentID uuid.UUID) ([]models.AppointmentResponse, error) {
	query := `
		SELECT ` + responseColumns + `
		FROM appointment_responses
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.q.QueryContext(ctx, query, appointmentID)
	if err != nil {
		return nil, dbError(err, "AppointmentResponse", "list")
	}
	defer rows.Close()

	responses := []models.AppointmentResponse{}
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, dbError(err, "AppointmentResponse", "scan")
		}
		responses = append(responses, *resp)
	}
	return responses, dbError(rows.Err(), "AppointmentResponse", "list")
}

func (r *queries) LatestSuggestion(ctx context.Context, appointmentID uuid.UUID) (*models.AppointmentResponse, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+responseColumns+`
		FROM appointment_responses
		WHERE appointment_id = $1 AND response_type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, appointmentID, models.ResponseTypeSuggestAlternative)
	if err != nil {
		return nil, dbError(err, "AppointmentResponse", "get latest")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, dbError(rows.Err(), "AppointmentResponse", "get latest")
	}
	resp, err := scanResponse(rows)
	if err != nil {
		return nil, dbError(err, "AppointmentResponse", "scan")
	}
	return resp, nil
}
