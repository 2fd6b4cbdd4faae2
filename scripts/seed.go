package main

import (
	"context"
	"os"
	"time"

	"github.com/metacircle/backend/internal/adapters/database"
	"github.com/metacircle/backend/internal/application/services"
	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/infrastructure/clients/postgres"
	"github.com/metacircle/backend/internal/infrastructure/observability"
	"github.com/metacircle/backend/pkg/config"
)

// seed configures a demo community: weekday windows, specialist settings and
// the tier policies from the environment. SEED_COMMUNITY_ID overrides the id.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	observability.InitLogger("seed", cfg.Log.Environment, cfg.Log.Level)
	logger := observability.Component("seed")

	pgClient, err := postgres.NewClient(&cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer pgClient.Close()

	ctx := context.Background()
	communityID := os.Getenv("SEED_COMMUNITY_ID")
	if communityID == "" {
		communityID = "demo-community"
	}

	if os.Getenv("RESET_DB") == "true" {
		logger.Warn().Msg("RESET_DB=true detected, truncating tables before seeding")
		_, err := pgClient.DB().ExecContext(ctx, `
			TRUNCATE TABLE
				outbound_notifications,
				appointments,
				blocked_dates,
				availability_windows,
				scheduling_settings,
				rate_limit_policies
			RESTART IDENTITY CASCADE
		`)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to reset tables")
		}
	}

	loc, err := cfg.Scheduling.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid scheduling timezone")
	}
	defaults := services.SchedulingDefaults{
		Location:        loc,
		SlotMinutes:     cfg.Scheduling.SlotMinutes,
		SenderAccountID: cfg.WhatsApp.DefaultAccountID,
	}
	settingsRepo := database.NewSettingsAdapter(pgClient)
	availability := services.NewAvailabilityService(
		database.NewAvailabilityAdapter(pgClient),
		database.NewAppointmentAdapter(pgClient),
		settingsRepo,
		defaults,
		logger,
	)
	policies := services.NewPolicyService(settingsRepo, cfg.RateLimit)

	// Monday to Friday, mornings and afternoons
	var windows []entities.AvailabilityWindow
	for day := int(time.Monday); day <= int(time.Friday); day++ {
		windows = append(windows,
			entities.AvailabilityWindow{CommunityID: communityID, DayOfWeek: day, StartTime: "09:00", EndTime: "12:00", IsActive: true},
			entities.AvailabilityWindow{CommunityID: communityID, DayOfWeek: day, StartTime: "14:00", EndTime: "18:00", IsActive: true},
		)
	}
	if _, err := availability.ReplaceWindows(ctx, communityID, windows); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed windows")
	}

	if err := availability.UpdateSettings(ctx, &entities.SchedulingSettings{
		CommunityID:        communityID,
		SpecialistName:     "Dra. Helena",
		SpecialistWhatsApp: getenv("SEED_SPECIALIST_WHATSAPP", "+5511999990000"),
		SenderAccountID:    cfg.WhatsApp.DefaultAccountID,
		SlotMinutes:        cfg.Scheduling.SlotMinutes,
		Timezone:           cfg.Scheduling.Timezone,
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed scheduling settings")
	}

	for _, tier := range []entities.AccountTier{entities.AccountTierNew, entities.AccountTierEstablished} {
		policy, err := policies.GetPolicy(ctx, tier)
		if err != nil {
			logger.Fatal().Err(err).Str("tier", string(tier)).Msg("failed to resolve policy")
		}
		if err := policies.UpdatePolicy(ctx, &policy); err != nil {
			logger.Fatal().Err(err).Str("tier", string(tier)).Msg("failed to seed policy")
		}
	}

	logger.Info().
		Str("community_id", communityID).
		Int("windows", len(windows)).
		Msg("seed complete")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
