package migration

import (
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/shared/constants"
	"github.com/orris-inc/rolloutd/internal/shared/logger"
)

// Manager runs the strategy picked for a driver and environment.
type Manager struct {
	strategy Strategy
	logger   logger.Interface
}

// NewManager chooses a strategy. Development derives the schema from the
// models; elsewhere MySQL runs goose and SQLite runs golang-migrate.
func NewManager(environment, driver string, log logger.Interface) *Manager {
	var strategy Strategy
	switch {
	case strings.EqualFold(environment, constants.EnvDevelopment):
		strategy = NewGormAutoMigrateStrategy(log)
	case strings.EqualFold(driver, "sqlite"):
		strategy = NewGolangMigrateStrategy(log)
	default:
		strategy = NewGooseStrategy(goose.DialectMySQL, log)
	}
	return NewManagerWithStrategy(strategy, log)
}

func NewManagerWithStrategy(strategy Strategy, log logger.Interface) *Manager {
	return &Manager{
		strategy: strategy,
		logger:   log.With("component", "migration.manager"),
	}
}

// Migrate executes the configured migration strategy
func (m *Manager) Migrate(db *gorm.DB) error {
	m.logger.Infow("starting database migration", "strategy", m.strategy.GetName())

	if err := m.strategy.Migrate(db); err != nil {
		m.logger.Errorw("migration failed", "strategy", m.strategy.GetName(), "error", err)
		return fmt.Errorf("migration failed with strategy %s: %w", m.strategy.GetName(), err)
	}

	m.logger.Infow("database migration completed successfully", "strategy", m.strategy.GetName())
	return nil
}

func (m *Manager) GetStrategy() Strategy {
	return m.strategy
}
