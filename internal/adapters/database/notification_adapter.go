package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

var notificationColumns = []interface{}{
	"id", "account_id", "community_id", "appointment_id", "kind", "recipient", "body",
	"status", "attempts", "next_attempt_at", "last_error", "message_id", "sent_at",
	"created_at", "updated_at",
}

var dueStatuses = []entities.NotificationStatus{
	entities.NotificationStatusPending,
	entities.NotificationStatusDeferred,
}

// NotificationAdapter implements repositories.NotificationRepository on the
// outbound_notifications table
type NotificationAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewNotificationAdapter creates a new notification queue adapter
func NewNotificationAdapter(client *postgres.Client) repositories.NotificationRepository {
	return &NotificationAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func (a *NotificationAdapter) Enqueue(ctx context.Context, n *entities.OutboundNotification) error {
	query, args, err := a.db.Insert("outbound_notifications").Rows(goqu.Record{
		"id":              n.ID,
		"account_id":      n.AccountID,
		"community_id":    n.CommunityID,
		"appointment_id":  n.AppointmentID,
		"kind":            n.Kind,
		"recipient":       n.Recipient,
		"body":            n.Body,
		"status":          n.Status,
		"attempts":        n.Attempts,
		"next_attempt_at": n.NextAttemptAt,
		"created_at":      n.CreatedAt,
		"updated_at":      n.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("notification already queued")
		}
		return apperrors.NewInternalError("failed to enqueue notification", err)
	}
	return nil
}

// DueAccounts lists accounts with due messages, oldest backlog first
func (a *NotificationAdapter) DueAccounts(ctx context.Context, now time.Time) ([]string, error) {
	query, args, err := a.db.From("outbound_notifications").
		Select("account_id").
		Where(
			goqu.C("status").In(dueStatuses),
			goqu.C("next_attempt_at").Lte(now),
		).
		GroupBy("account_id").
		Order(goqu.MIN("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list due accounts", err)
	}
	defer rows.Close()

	accounts := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewInternalError("failed to scan account id", err)
		}
		accounts = append(accounts, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate due accounts", err)
	}
	return accounts, nil
}

// ClaimNext moves the account's oldest due message to sending. Concurrent
// dispatchers skip rows another transaction has locked. Returns nil when
// nothing is due.
func (a *NotificationAdapter) ClaimNext(ctx context.Context, accountID string, now time.Time) (*entities.OutboundNotification, error) {
	next := a.db.From("outbound_notifications").
		Select("id").
		Where(
			goqu.Ex{"account_id": accountID},
			goqu.C("status").In(dueStatuses),
			goqu.C("next_attempt_at").Lte(now),
		).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Limit(1).
		ForUpdate(exp.SkipLocked)

	query, args, err := a.db.Update("outbound_notifications").
		Set(goqu.Record{
			"status":     entities.NotificationStatusSending,
			"updated_at": now,
		}).
		Where(goqu.C("id").In(next)).
		Returning(notificationColumns...).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build claim query", err)
	}

	n, err := scanNotification(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to claim notification", err)
	}
	return n, nil
}

// Defer pushes every due message of the account to until
func (a *NotificationAdapter) Defer(ctx context.Context, accountID string, until time.Time) (int64, error) {
	query, args, err := a.db.Update("outbound_notifications").
		Set(goqu.Record{
			"status":          entities.NotificationStatusDeferred,
			"next_attempt_at": until,
			"updated_at":      time.Now(),
		}).
		Where(
			goqu.Ex{"account_id": accountID},
			goqu.C("status").In(dueStatuses),
			goqu.C("next_attempt_at").Lt(until),
		).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build defer query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to defer notifications", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to get rows affected", err)
	}
	return rowsAffected, nil
}

func (a *NotificationAdapter) MarkSent(ctx context.Context, id, messageID string, at time.Time) error {
	return a.update(ctx, id, goqu.Record{
		"status":     entities.NotificationStatusSent,
		"attempts":   goqu.L("attempts + 1"),
		"message_id": messageID,
		"sent_at":    at,
		"updated_at": at,
	})
}

// MarkRetry records a failed attempt and schedules the next one
func (a *NotificationAdapter) MarkRetry(ctx context.Context, id, reason string, next time.Time) error {
	return a.update(ctx, id, goqu.Record{
		"status":          entities.NotificationStatusPending,
		"attempts":        goqu.L("attempts + 1"),
		"last_error":      reason,
		"next_attempt_at": next,
		"updated_at":      time.Now(),
	})
}

func (a *NotificationAdapter) MarkFailed(ctx context.Context, id, reason string) error {
	return a.update(ctx, id, goqu.Record{
		"status":     entities.NotificationStatusFailed,
		"attempts":   goqu.L("attempts + 1"),
		"last_error": reason,
		"updated_at": time.Now(),
	})
}

func (a *NotificationAdapter) update(ctx context.Context, id string, record goqu.Record) error {
	query, args, err := a.db.Update("outbound_notifications").
		Set(record).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update notification", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError("notification not found")
	}
	return nil
}

// List returns the newest messages first
func (a *NotificationAdapter) List(ctx context.Context, filter repositories.NotificationFilter) ([]*entities.OutboundNotification, error) {
	ds := a.db.Select(notificationColumns...).From("outbound_notifications")
	if filter.AccountID != "" {
		ds = ds.Where(goqu.Ex{"account_id": filter.AccountID})
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}
	ds = ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Desc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list notifications", err)
	}
	defer rows.Close()

	out := []*entities.OutboundNotification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan notification", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate notifications", err)
	}
	return out, nil
}

func scanNotification(row rowScanner) (*entities.OutboundNotification, error) {
	n := &entities.OutboundNotification{}
	var (
		appointmentID, lastError, messageID sql.NullString
		sentAt                              sql.NullTime
	)

	err := row.Scan(
		&n.ID, &n.AccountID, &n.CommunityID, &appointmentID, &n.Kind, &n.Recipient, &n.Body,
		&n.Status, &n.Attempts, &n.NextAttemptAt, &lastError, &messageID, &sentAt,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if appointmentID.Valid {
		n.AppointmentID = &appointmentID.String
	}
	if lastError.Valid {
		n.LastError = &lastError.String
	}
	if messageID.Valid {
		n.MessageID = &messageID.String
	}
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	return n, nil
}
