package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/lib/pq"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

const uniqueViolation = "23505"

var appointmentColumns = []interface{}{
	"id", "user_id", "community_id", "appointment_date", "duration",
	"type", "status", "notes", "whatsapp_sent", "created_at", "updated_at",
}

// AppointmentAdapter implements the AppointmentRepository interface
type AppointmentAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewAppointmentAdapter creates a new appointment adapter
func NewAppointmentAdapter(client *postgres.Client) repositories.AppointmentRepository {
	return &AppointmentAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Claim inserts the appointment inside a transaction holding the community's
// advisory lock, after re-checking for overlaps. SOS bookings spend a ticket
// with a conditional update in the same transaction. The partial unique index
// on (community_id, appointment_date) for active rows backs this up.
func (a *AppointmentAdapter) Claim(ctx context.Context, appointment *entities.Appointment, consumeSOS bool) (err error) {
	tx, err := a.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewInternalError("failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lockQuery, _, err := a.db.Select(
		goqu.Func("pg_advisory_xact_lock", goqu.Func("hashtext", "appointments:"+appointment.CommunityID)),
	).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build lock query", err)
	}
	if _, err = tx.ExecContext(ctx, lockQuery); err != nil {
		return apperrors.NewInternalError("failed to lock community calendar", err)
	}

	overlapQuery, args, err := a.db.From("appointments").
		Select(goqu.COUNT("*")).
		Where(
			goqu.Ex{"community_id": appointment.CommunityID},
			goqu.C("status").Neq(entities.AppointmentStatusCancelled),
			goqu.C("appointment_date").Lt(appointment.End()),
			goqu.L("appointment_date + (duration * interval '1 minute') > ?", appointment.AppointmentDate),
		).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build overlap query", err)
	}
	var overlapping int
	if err = tx.QueryRowContext(ctx, overlapQuery, args...).Scan(&overlapping); err != nil {
		return apperrors.NewInternalError("failed to check overlapping appointments", err)
	}
	if overlapping > 0 {
		err = apperrors.NewSlotUnavailableError("slot already booked")
		return err
	}

	insertQuery, args, err := a.db.Insert("appointments").Rows(goqu.Record{
		"id":               appointment.ID,
		"user_id":          appointment.UserID,
		"community_id":     appointment.CommunityID,
		"appointment_date": appointment.AppointmentDate,
		"duration":         appointment.Duration,
		"type":             appointment.Type,
		"status":           appointment.Status,
		"notes":            appointment.Notes,
		"whatsapp_sent":    appointment.WhatsAppSent,
		"created_at":       appointment.CreatedAt,
		"updated_at":       appointment.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err = tx.ExecContext(ctx, insertQuery, args...); err != nil {
		if isUniqueViolation(err) {
			err = apperrors.NewSlotUnavailableError("slot already booked")
			return err
		}
		return apperrors.NewInternalError("failed to create appointment", err)
	}

	if consumeSOS {
		if err = a.consumeSosTicket(ctx, tx, appointment); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.NewInternalError("failed to commit appointment", err)
	}
	return nil
}

func (a *AppointmentAdapter) consumeSosTicket(ctx context.Context, tx *sql.Tx, appointment *entities.Appointment) error {
	query, args, err := a.db.Update("user_subscriptions").
		Set(goqu.Record{
			"sos_tickets_used": goqu.L("sos_tickets_used + 1"),
			"updated_at":       appointment.CreatedAt,
		}).
		Where(
			goqu.Ex{
				"user_id":      appointment.UserID,
				"community_id": appointment.CommunityID,
				"status":       entities.SubscriptionStatusActive,
			},
			goqu.C("sos_tickets_used").Lt(goqu.I("sos_tickets_total")),
		).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build SOS update query", err)
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to consume SOS ticket", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewSosCreditExhaustedError("no SOS tickets left")
	}
	return nil
}

// GetByID retrieves an appointment by ID
func (a *AppointmentAdapter) GetByID(ctx context.Context, id string) (*entities.Appointment, error) {
	query, args, err := a.db.Select(appointmentColumns...).
		From("appointments").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	appointment, err := scanAppointment(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("appointment with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get appointment", err)
	}
	return appointment, nil
}

// UpdateStatus moves an appointment from one status to another
func (a *AppointmentAdapter) UpdateStatus(ctx context.Context, id string, from, to entities.AppointmentStatus) error {
	query, args, err := a.db.Update("appointments").
		Set(goqu.Record{
			"status":     to,
			"updated_at": time.Now(),
		}).
		Where(goqu.Ex{"id": id, "status": from}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update appointment status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		if _, err := a.GetByID(ctx, id); err != nil {
			return err
		}
		return apperrors.NewConflictError(fmt.Sprintf("appointment %s is no longer %s", id, from))
	}
	return nil
}

// MarkWhatsAppSent flags that the booking notification went out
func (a *AppointmentAdapter) MarkWhatsAppSent(ctx context.Context, id string) error {
	query, args, err := a.db.Update("appointments").
		Set(goqu.Record{"whatsapp_sent": true, "updated_at": time.Now()}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to flag appointment notification", err)
	}
	return nil
}

// ListActiveBetween returns non-cancelled appointments of a community starting in [from, to)
func (a *AppointmentAdapter) ListActiveBetween(ctx context.Context, communityID string, from, to time.Time) ([]*entities.Appointment, error) {
	ds := a.db.Select(appointmentColumns...).
		From("appointments").
		Where(
			goqu.Ex{"community_id": communityID},
			goqu.C("status").Neq(entities.AppointmentStatusCancelled),
			goqu.C("appointment_date").Gte(from),
			goqu.C("appointment_date").Lt(to),
		).
		Order(goqu.C("appointment_date").Asc())

	return a.query(ctx, ds)
}

// List retrieves appointments matching the filter
func (a *AppointmentAdapter) List(ctx context.Context, filter repositories.AppointmentFilter) ([]*entities.Appointment, error) {
	ds := a.db.Select(appointmentColumns...).From("appointments")

	if filter.UserID != "" {
		ds = ds.Where(goqu.Ex{"user_id": filter.UserID})
	}
	if filter.CommunityID != "" {
		ds = ds.Where(goqu.Ex{"community_id": filter.CommunityID})
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}
	if filter.From != nil {
		ds = ds.Where(goqu.C("appointment_date").Gte(*filter.From))
	}
	if filter.To != nil {
		ds = ds.Where(goqu.C("appointment_date").Lt(*filter.To))
	}

	ds = ds.Order(goqu.C("appointment_date").Asc(), goqu.C("id").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	return a.query(ctx, ds)
}

func (a *AppointmentAdapter) query(ctx context.Context, ds *goqu.SelectDataset) ([]*entities.Appointment, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list appointments", err)
	}
	defer rows.Close()

	appointments := []*entities.Appointment{}
	for rows.Next() {
		appointment, err := scanAppointment(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan appointment", err)
		}
		appointments = append(appointments, appointment)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate appointments", err)
	}
	return appointments, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAppointment(row rowScanner) (*entities.Appointment, error) {
	appointment := &entities.Appointment{}
	var notes sql.NullString

	err := row.Scan(
		&appointment.ID,
		&appointment.UserID,
		&appointment.CommunityID,
		&appointment.AppointmentDate,
		&appointment.Duration,
		&appointment.Type,
		&appointment.Status,
		&notes,
		&appointment.WhatsAppSent,
		&appointment.CreatedAt,
		&appointment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	appointment.Notes = notes.String
	return appointment, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
