// Command seeder provisions a development database: it runs migrations,
// creates an admin account and a few published events. Safe to re-run;
// existing rows are left alone.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/nadi-bh/backend-nadi/internal/config"
	"github.com/nadi-bh/backend-nadi/internal/db"
	"github.com/nadi-bh/backend-nadi/internal/event"
	"github.com/nadi-bh/backend-nadi/internal/member"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	members := &member.Store{Pool: pool}
	events := &event.Store{Pool: pool}

	seedAdmin(ctx, logger, members)
	seedEvents(ctx, logger, events)

	logger.Info().Msg("seeding completed")
}

func seedAdmin(ctx context.Context, logger zerolog.Logger, members *member.Store) {
	email := valueOr(os.Getenv("SEED_ADMIN_EMAIL"), "admin@nadi.example")
	password := valueOr(os.Getenv("SEED_ADMIN_PASSWORD"), "change-me-now")

	if _, err := members.GetByEmail(ctx, email); err == nil {
		logger.Info().Str("email", email).Msg("admin already exists")
		return
	} else if !errors.Is(err, member.ErrNotFound) {
		logger.Fatal().Err(err).Msg("look up admin")
	}

	id, err := members.Create(ctx, "Site Administrator", email, "36000000", "admin", password)
	if err != nil {
		logger.Fatal().Err(err).Msg("create admin")
	}
	logger.Info().Str("id", id).Str("email", email).Msg("admin created")
}

func seedEvents(ctx context.Context, logger zerolog.Logger, events *event.Store) {
	existing, err := events.ListPublished(ctx, 1)
	if err != nil {
		logger.Fatal().Err(err).Msg("list events")
	}
	if len(existing) > 0 {
		logger.Info().Msg("events already seeded")
		return
	}

	now := time.Now()
	samples := []event.Event{
		{
			Title:           "Annual Gala Dinner",
			Description:     "The society's yearly gala at the Gulf Hotel.",
			Venue:           "Gulf Hotel, Manama",
			StartsAt:        now.AddDate(0, 1, 0),
			TicketPriceFils: 15000,
			Capacity:        200,
			Published:       true,
		},
		{
			Title:           "Beginners Chess Workshop",
			Description:     "A hands-on introduction for new members.",
			Venue:           "Clubhouse, Juffair",
			StartsAt:        now.AddDate(0, 0, 14),
			TicketPriceFils: 2000,
			Capacity:        30,
			Published:       true,
		},
		{
			Title:           "Family Beach Day",
			Description:     "Open to members and their families.",
			Venue:           "Al Jazayer Beach",
			StartsAt:        now.AddDate(0, 2, 0),
			TicketPriceFils: 5000,
			Capacity:        100,
			Published:       true,
		},
	}
	for _, ev := range samples {
		id, err := events.Create(ctx, ev)
		if err != nil {
			logger.Fatal().Err(err).Str("title", ev.Title).Msg("create event")
		}
		logger.Info().Str("id", id).Str("title", ev.Title).Msg("event created")
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
