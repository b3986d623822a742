package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/robotline/claim-engine/internal/repository"
	"gorm.io/gorm"
)

func createWorkItemsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_work_items",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.WorkItemModel{}); err != nil {
				return err
			}
			indexes := []string{
				// Partial index feeding the random claim selection.
				`CREATE INDEX IF NOT EXISTS idx_work_items_pending ON work_items (batch_id) WHERE state = 'PENDING'`,
				// Unique so seq allocation bugs surface as insert errors
				// instead of ambiguous listing order.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_work_items_batch_seq ON work_items (batch_id, seq)`,
				`CREATE INDEX IF NOT EXISTS idx_work_items_batch_key ON work_items (batch_id, business_key)`,
				// Lease sweeper scan over stale claims.
				`CREATE INDEX IF NOT EXISTS idx_work_items_claimed_at ON work_items (claimed_at) WHERE state = 'CLAIMED'`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.WorkItemModel{})
		},
	}
}
