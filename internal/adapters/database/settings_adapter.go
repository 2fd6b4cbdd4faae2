package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// SettingsAdapter implements repositories.SettingsRepository. Rows are
// scanned with sqlx into db-tagged structs.
type SettingsAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewSettingsAdapter creates a new settings adapter
func NewSettingsAdapter(client *postgres.Client) repositories.SettingsRepository {
	return &SettingsAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// policyRow stores durations as whole seconds
type policyRow struct {
	Tier             string `db:"tier"`
	MinDelaySeconds  int64  `db:"min_delay_seconds"`
	MaxPerHour       int    `db:"max_per_hour"`
	MaxPerDay        int    `db:"max_per_day"`
	IntelligentDelay bool   `db:"intelligent_delay"`
	DelayMinSeconds  int64  `db:"delay_min_seconds"`
	DelayMaxSeconds  int64  `db:"delay_max_seconds"`
}

func (r policyRow) toEntity() *entities.RateLimitPolicy {
	return &entities.RateLimitPolicy{
		Tier:             entities.AccountTier(r.Tier),
		MinDelay:         time.Duration(r.MinDelaySeconds) * time.Second,
		MaxPerHour:       r.MaxPerHour,
		MaxPerDay:        r.MaxPerDay,
		IntelligentDelay: r.IntelligentDelay,
		DelayMin:         time.Duration(r.DelayMinSeconds) * time.Second,
		DelayMax:         time.Duration(r.DelayMaxSeconds) * time.Second,
	}
}

func (a *SettingsAdapter) GetSchedulingSettings(ctx context.Context, communityID string) (*entities.SchedulingSettings, error) {
	query, args, err := a.db.Select(
		"community_id", "specialist_name", "specialist_whatsapp", "sender_account_id",
		"slot_minutes", "timezone", "updated_at",
	).
		From("scheduling_settings").
		Where(goqu.Ex{"community_id": communityID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	settings := &entities.SchedulingSettings{}
	if err := a.client.DBX().GetContext(ctx, settings, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("scheduling settings not found")
		}
		return nil, apperrors.NewInternalError("failed to get scheduling settings", err)
	}
	return settings, nil
}

func (a *SettingsAdapter) UpsertSchedulingSettings(ctx context.Context, settings *entities.SchedulingSettings) error {
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = time.Now()
	}

	query, args, err := a.db.Insert("scheduling_settings").
		Rows(goqu.Record{
			"community_id":        settings.CommunityID,
			"specialist_name":     settings.SpecialistName,
			"specialist_whatsapp": settings.SpecialistWhatsApp,
			"sender_account_id":   settings.SenderAccountID,
			"slot_minutes":        settings.SlotMinutes,
			"timezone":            settings.Timezone,
			"updated_at":          settings.UpdatedAt,
		}).
		OnConflict(goqu.DoUpdate("community_id", goqu.Record{
			"specialist_name":     goqu.I("excluded.specialist_name"),
			"specialist_whatsapp": goqu.I("excluded.specialist_whatsapp"),
			"sender_account_id":   goqu.I("excluded.sender_account_id"),
			"slot_minutes":        goqu.I("excluded.slot_minutes"),
			"timezone":            goqu.I("excluded.timezone"),
			"updated_at":          goqu.I("excluded.updated_at"),
		})).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to save scheduling settings", err)
	}
	return nil
}

func (a *SettingsAdapter) GetSenderAccount(ctx context.Context, id string) (*entities.SenderAccount, error) {
	query, args, err := a.db.Select("id", "instance", "phone", "registered_at", "tier_override").
		From("sender_accounts").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	account := &entities.SenderAccount{}
	if err := a.client.DBX().GetContext(ctx, account, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("sender account not found")
		}
		return nil, apperrors.NewInternalError("failed to get sender account", err)
	}
	return account, nil
}

func (a *SettingsAdapter) GetRateLimitPolicy(ctx context.Context, tier entities.AccountTier) (*entities.RateLimitPolicy, error) {
	query, args, err := a.db.Select(
		"tier", "min_delay_seconds", "max_per_hour", "max_per_day",
		"intelligent_delay", "delay_min_seconds", "delay_max_seconds",
	).
		From("rate_limit_policies").
		Where(goqu.Ex{"tier": string(tier)}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var row policyRow
	if err := a.client.DBX().GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("rate limit policy not found")
		}
		return nil, apperrors.NewInternalError("failed to get rate limit policy", err)
	}
	return row.toEntity(), nil
}

func (a *SettingsAdapter) UpsertRateLimitPolicy(ctx context.Context, policy *entities.RateLimitPolicy) error {
	query, args, err := a.db.Insert("rate_limit_policies").
		Rows(goqu.Record{
			"tier":              string(policy.Tier),
			"min_delay_seconds": int64(policy.MinDelay / time.Second),
			"max_per_hour":      policy.MaxPerHour,
			"max_per_day":       policy.MaxPerDay,
			"intelligent_delay": policy.IntelligentDelay,
			"delay_min_seconds": int64(policy.DelayMin / time.Second),
			"delay_max_seconds": int64(policy.DelayMax / time.Second),
			"updated_at":        time.Now(),
		}).
		OnConflict(goqu.DoUpdate("tier", goqu.Record{
			"min_delay_seconds": goqu.I("excluded.min_delay_seconds"),
			"max_per_hour":      goqu.I("excluded.max_per_hour"),
			"max_per_day":       goqu.I("excluded.max_per_day"),
			"intelligent_delay": goqu.I("excluded.intelligent_delay"),
			"delay_min_seconds": goqu.I("excluded.delay_min_seconds"),
			"delay_max_seconds": goqu.I("excluded.delay_max_seconds"),
			"updated_at":        goqu.I("excluded.updated_at"),
		})).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build upsert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to save rate limit policy", err)
	}
	return nil
}
