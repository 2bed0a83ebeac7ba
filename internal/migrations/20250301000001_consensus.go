package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/mkoziy/finsync/internal/models"
)

// Daily analyst snapshots. Annual statement and estimate rows reuse the
// quarterly tables, so they only need a period-aware freshness index.
func init() {
	snapshots := []any{
		(*models.AnalystConsensus)(nil),
		(*models.PriceTargetConsensus)(nil),
	}
	snapshotIndexes := []struct{ name, def string }{
		{"idx_analyst_consensus_ticker_fetched", "analyst_consensus(ticker, fetched_at)"},
		{"idx_price_target_consensus_ticker_fetched", "price_target_consensus(ticker, fetched_at)"},
		{"idx_income_statements_ticker_period_fetched", "income_statements(ticker, period, fetched_at)"},
		{"idx_balance_sheets_ticker_period_fetched", "balance_sheets(ticker, period, fetched_at)"},
		{"idx_cash_flow_statements_ticker_period_fetched", "cash_flow_statements(ticker, period, fetched_at)"},
		{"idx_analyst_estimates_ticker_period_fetched", "analyst_estimates(ticker, period, fetched_at)"},
	}

	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		for _, model := range snapshots {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("create %T: %w", model, err)
			}
		}
		for _, idx := range snapshotIndexes {
			q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s", idx.name, idx.def)
			if _, err := db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("create index %s: %w", idx.name, err)
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		for _, idx := range snapshotIndexes {
			if _, err := db.ExecContext(ctx, "DROP INDEX IF EXISTS "+idx.name); err != nil {
				return fmt.Errorf("drop index %s: %w", idx.name, err)
			}
		}
		for i := len(snapshots) - 1; i >= 0; i-- {
			if _, err := db.NewDropTable().Model(snapshots[i]).IfExists().Exec(ctx); err != nil {
				return fmt.Errorf("drop %T: %w", snapshots[i], err)
			}
		}
		return nil
	})
}
