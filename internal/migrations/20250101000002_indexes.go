package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Read-path and audit indexes.
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		for _, idx := range indexes {
			q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s", idx.name, idx.def)
			if _, err := db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("create index %s: %w", idx.name, err)
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		for _, idx := range indexes {
			if _, err := db.ExecContext(ctx, "DROP INDEX IF EXISTS "+idx.name); err != nil {
				return fmt.Errorf("drop index %s: %w", idx.name, err)
			}
		}
		return nil
	})
}
