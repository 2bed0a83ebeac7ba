package migrations

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/mkoziy/finsync/internal/models"
)

var Migrations = migrate.NewMigrations()

// canonicalModels are created in this order and dropped in reverse.
func canonicalModels() []any {
	return []any{
		(*models.StockPrice)(nil),
		(*models.IncomeStatement)(nil),
		(*models.BalanceSheet)(nil),
		(*models.CashFlowStatement)(nil),
		(*models.AnalystEstimate)(nil),
		(*models.EarningsSurprise)(nil),
		(*models.AnalystGrade)(nil),
		(*models.SyncLog)(nil),
		(*models.FetchSession)(nil),
	}
}

var indexes = []struct{ name, def string }{
	{"idx_stock_prices_date", "stock_prices(date)"},
	{"idx_income_statements_ticker_fetched", "income_statements(ticker, fetched_at)"},
	{"idx_balance_sheets_ticker_fetched", "balance_sheets(ticker, fetched_at)"},
	{"idx_cash_flow_statements_ticker_fetched", "cash_flow_statements(ticker, fetched_at)"},
	{"idx_analyst_estimates_ticker_fetched", "analyst_estimates(ticker, fetched_at)"},
	{"idx_earnings_surprises_ticker_fetched", "earnings_surprises(ticker, fetched_at)"},
	{"idx_analyst_grades_ticker_fetched", "analyst_grades(ticker, fetched_at)"},
	{"idx_sync_logs_entity_started", "sync_logs(entity, started_at)"},
	{"idx_sync_logs_session", "sync_logs(session_id)"},
	{"idx_sync_logs_status", "sync_logs(status)"},
	{"idx_fetch_sessions_started", "fetch_sessions(started_at)"},
}

// Status is one migration and whether it has been applied.
type Status struct {
	Name    string
	Comment string
	Applied bool
	GroupID int64
}

// Runner applies and inspects migrations.
type Runner struct {
	migrator *migrate.Migrator
	log      logrus.FieldLogger
}

// NewRunner builds a Runner over db.
func NewRunner(db *bun.DB, log logrus.FieldLogger) *Runner {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Runner{migrator: migrate.NewMigrator(db, Migrations), log: log}
}

// Up runs all pending migrations.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := r.migrator.Lock(ctx); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer r.migrator.Unlock(ctx) //nolint:errcheck

	group, err := r.migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		r.log.Info("no new migrations to run")
		return nil
	}
	r.log.WithField("group", group.String()).Info("migrated")
	return nil
}

// Down rolls back the last migration group.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := r.migrator.Lock(ctx); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer r.migrator.Unlock(ctx) //nolint:errcheck

	group, err := r.migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	if group.IsZero() {
		r.log.Info("no groups to roll back")
		return nil
	}
	r.log.WithField("group", group.String()).Info("rolled back")
	return nil
}

// Status lists every known migration.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	if err := r.migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	ms, err := r.migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]Status, 0, len(ms))
	for _, m := range ms {
		out = append(out, Status{Name: m.Name, Comment: m.Comment, Applied: m.IsApplied(), GroupID: m.GroupID})
	}
	return out, nil
}

// RunMigrations runs all pending migrations.
func RunMigrations(ctx context.Context, db *bun.DB) error {
	return NewRunner(db, nil).Up(ctx)
}
