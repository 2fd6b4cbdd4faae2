package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// AvailabilityAdapter implements repositories.AvailabilityRepository.
// blocked_dates.date is a DATE column and is read back as YYYY-MM-DD text.
type AvailabilityAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewAvailabilityAdapter creates a new availability adapter
func NewAvailabilityAdapter(client *postgres.Client) repositories.AvailabilityRepository {
	return &AvailabilityAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func (a *AvailabilityAdapter) ListWindows(ctx context.Context, communityID string) ([]entities.AvailabilityWindow, error) {
	query, args, err := a.db.Select(
		"id", "community_id", "day_of_week", "start_time", "end_time", "is_active", "created_at", "updated_at",
	).
		From("availability_windows").
		Where(goqu.Ex{"community_id": communityID}).
		Order(goqu.C("day_of_week").Asc(), goqu.C("start_time").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list availability windows", err)
	}
	defer rows.Close()

	windows := []entities.AvailabilityWindow{}
	for rows.Next() {
		var w entities.AvailabilityWindow
		if err := rows.Scan(
			&w.ID, &w.CommunityID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan availability window", err)
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate availability windows", err)
	}
	return windows, nil
}

// ReplaceWindows deletes and re-inserts the community's windows in one transaction
func (a *AvailabilityAdapter) ReplaceWindows(ctx context.Context, communityID string, windows []entities.AvailabilityWindow) (err error) {
	tx, err := a.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewInternalError("failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	deleteQuery, args, err := a.db.Delete("availability_windows").
		Where(goqu.Ex{"community_id": communityID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}
	if _, err = tx.ExecContext(ctx, deleteQuery, args...); err != nil {
		return apperrors.NewInternalError("failed to clear availability windows", err)
	}

	if len(windows) > 0 {
		rows := make([]interface{}, 0, len(windows))
		for _, w := range windows {
			rows = append(rows, goqu.Record{
				"id":           w.ID,
				"community_id": communityID,
				"day_of_week":  w.DayOfWeek,
				"start_time":   w.StartTime,
				"end_time":     w.EndTime,
				"is_active":    w.IsActive,
				"created_at":   w.CreatedAt,
				"updated_at":   w.UpdatedAt,
			})
		}
		insertQuery, insertArgs, buildErr := a.db.Insert("availability_windows").Rows(rows...).ToSQL()
		if buildErr != nil {
			err = buildErr
			return apperrors.NewInternalError("failed to build insert query", err)
		}
		if _, err = tx.ExecContext(ctx, insertQuery, insertArgs...); err != nil {
			return apperrors.NewInternalError("failed to insert availability windows", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.NewInternalError("failed to commit availability windows", err)
	}
	return nil
}

// ListBlockedDates returns blocked dates in [from, to]; empty bounds are open
func (a *AvailabilityAdapter) ListBlockedDates(ctx context.Context, communityID, from, to string) ([]entities.BlockedDate, error) {
	ds := a.db.Select(
		"id", "community_id", goqu.L(`to_char("date", 'YYYY-MM-DD')`).As("date"), "reason", "created_at",
	).
		From("blocked_dates").
		Where(goqu.Ex{"community_id": communityID})
	if from != "" {
		ds = ds.Where(goqu.C("date").Gte(goqu.L("?::date", from)))
	}
	if to != "" {
		ds = ds.Where(goqu.C("date").Lte(goqu.L("?::date", to)))
	}

	query, args, err := ds.Order(goqu.C("date").Asc()).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list blocked dates", err)
	}
	defer rows.Close()

	dates := []entities.BlockedDate{}
	for rows.Next() {
		var b entities.BlockedDate
		if err := rows.Scan(&b.ID, &b.CommunityID, &b.Date, &b.Reason, &b.CreatedAt); err != nil {
			return nil, apperrors.NewInternalError("failed to scan blocked date", err)
		}
		dates = append(dates, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate blocked dates", err)
	}
	return dates, nil
}

func (a *AvailabilityAdapter) IsBlocked(ctx context.Context, communityID, date string) (bool, error) {
	query, args, err := a.db.From("blocked_dates").
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{"community_id": communityID}, goqu.C("date").Eq(goqu.L("?::date", date))).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build query", err)
	}

	var count int
	if err := a.client.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, apperrors.NewInternalError("failed to check blocked date", err)
	}
	return count > 0, nil
}

func (a *AvailabilityAdapter) AddBlockedDate(ctx context.Context, blocked *entities.BlockedDate) error {
	if blocked.CreatedAt.IsZero() {
		blocked.CreatedAt = time.Now()
	}

	query, args, err := a.db.Insert("blocked_dates").Rows(goqu.Record{
		"id":           blocked.ID,
		"community_id": blocked.CommunityID,
		"date":         goqu.L("?::date", blocked.Date),
		"reason":       blocked.Reason,
		"created_at":   blocked.CreatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("date is already blocked")
		}
		return apperrors.NewInternalError("failed to block date", err)
	}
	return nil
}

func (a *AvailabilityAdapter) RemoveBlockedDate(ctx context.Context, communityID, date string) error {
	query, args, err := a.db.Delete("blocked_dates").
		Where(goqu.Ex{"community_id": communityID}, goqu.C("date").Eq(goqu.L("?::date", date))).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to unblock date", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError("blocked date not found")
	}
	return nil
}
