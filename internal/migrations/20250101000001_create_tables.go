package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Tables with their composite natural-key constraints.
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		for _, model := range canonicalModels() {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("create %T: %w", model, err)
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		list := canonicalModels()
		for i := len(list) - 1; i >= 0; i-- {
			if _, err := db.NewDropTable().Model(list[i]).IfExists().Exec(ctx); err != nil {
				return fmt.Errorf("drop %T: %w", list[i], err)
			}
		}
		return nil
	})
}
