package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/teamshot/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.Membership{},
		&models.Invitation{},
		&models.TeamCredit{},
		&models.MemberCredit{},
		&models.Payment{},
		&models.AuditLog{},
	); err != nil {
		return err
	}
	return createPartialIndexes(db)
}

// partialIndexes back the "one active membership per user and team" and
// "one pending invitation per email and team" rules at the storage layer.
var partialIndexes = []struct {
	name    string
	table   string
	columns string
	where   string
}{
	{"ux_memberships_active", "memberships", "team_id, user_id", "removed_at IS NULL"},
	{"ux_invitations_pending", "invitations", "team_id, email", "status = 'pending'"},
}

func createPartialIndexes(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
	default:
		// MySQL has no partial indexes; the services' conditional writes still hold the rules.
		return nil
	}

	for _, idx := range partialIndexes {
		stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE %s", idx.name, idx.table, idx.columns, idx.where)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
