package engine

import (
	"context"
	"log/slog"
	"time"

	"hyperliquid-engine/internal/config"
	"hyperliquid-engine/pkg/types"
)

// fleetSource is the bot_instances slice of the row store.
// Satisfied by *store.BotStore.
type fleetSource interface {
	ListRunning(ctx context.Context) ([]types.BotRow, error)
	StampTick(ctx context.Context, botID string, at time.Time) error
}

// runner is one managed bot. Satisfied by *Bot.
type runner interface {
	UpdateConfig(row types.BotRow)
	Tick(ctx context.Context) error
	ReportError(ctx context.Context, err error)
}

// Supervisor reconciles the in-memory bot fleet against the row store and
// ticks every running bot, once per interval. The database is the single
// source of truth: a row flipped to "running" spawns a bot on the next pass,
// a row that disappears (stopped, deleted) drops it. One bot's failure never
// affects the others, and the loop itself survives store outages by pausing
// and retrying.
type Supervisor struct {
	source fleetSource
	make   func(row types.BotRow) runner
	cfg    config.SupervisorConfig
	logger *slog.Logger
	now    func() time.Time

	fleet map[string]runner
}

// NewSupervisor creates the reconcile loop over the shared adapters.
func NewSupervisor(deps Deps, cfg *config.Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		source: deps.Bots,
		make: func(row types.BotRow) runner {
			return NewBot(row, deps, cfg, logger)
		},
		cfg:    cfg.Supervisor,
		logger: logger.With("component", "supervisor"),
		now:    time.Now,
		fleet:  make(map[string]runner),
	}
}

// Run drives the reconcile loop until the context is canceled. It never
// returns for operational reasons.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started", "interval", s.cfg.Interval)
	for {
		if err := s.pass(ctx); err != nil {
			s.logger.Error("reconcile pass failed", "error", err)
			if !sleep(ctx, s.cfg.ErrorSleep) {
				return ctx.Err()
			}
			continue
		}
		if !sleep(ctx, s.cfg.Interval) {
			return ctx.Err()
		}
	}
}

// pass runs one reconcile cycle: list the running bots, create or update
// each one, tick it, stamp the tick on success. Per-bot failures are logged
// to the bot's own stream and skipped.
func (s *Supervisor) pass(ctx context.Context) error {
	rows, err := s.source.ListRunning(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[row.ID] = true

		bot, ok := s.fleet[row.ID]
		if !ok {
			bot = s.make(row)
			s.fleet[row.ID] = bot
			s.logger.Info("bot started", "bot_id", row.ID, "name", row.Name)
		} else {
			bot.UpdateConfig(row)
		}

		if err := bot.Tick(ctx); err != nil {
			s.logger.Error("bot tick failed", "bot_id", row.ID, "error", err)
			bot.ReportError(ctx, err)
			continue
		}
		if err := s.source.StampTick(ctx, row.ID, s.now()); err != nil {
			s.logger.Warn("tick stamp failed", "bot_id", row.ID, "error", err)
		}
	}

	for id := range s.fleet {
		if !seen[id] {
			delete(s.fleet, id)
			s.logger.Info("bot stopped", "bot_id", id)
		}
	}
	return nil
}

// sleep waits for d or until the context is canceled; false means canceled.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
