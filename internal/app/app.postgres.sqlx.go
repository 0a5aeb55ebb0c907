package app

import (
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	sharedconfig "github.com/joshuarp/inference-api/internal/shared/config"
)

// provideHistoryPostgresSQLX opens the request-history database. The history
// sink is optional infrastructure: when database.enabled is false the
// provider yields nil and the orchestrator simply runs without history.
func provideHistoryPostgresSQLX(cfg sharedconfig.ConfigProvider) (*sqlx.DB, error) {
	if !cfg.GetBool("database.enabled") {
		return nil, nil
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbString(cfg, "host"),
		dbInt(cfg, "port"),
		dbString(cfg, "user"),
		dbString(cfg, "password"),
		dbString(cfg, "name"),
		dbString(cfg, "ssl_mode"),
	)

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db(history): failed to open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("db(history): failed to ping postgres: %w", err)
	}

	return db, nil
}

func dbString(cfg sharedconfig.ConfigProvider, key string) string {
	yamlKey := fmt.Sprintf("database.%s", key)
	if cfg.IsSet(yamlKey) {
		return cfg.GetString(yamlKey)
	}

	return cfg.GetString(dbEnvKey(key))
}

func dbInt(cfg sharedconfig.ConfigProvider, key string) int {
	yamlKey := fmt.Sprintf("database.%s", key)
	if cfg.IsSet(yamlKey) {
		return cfg.GetInt(yamlKey)
	}

	return cfg.GetInt(dbEnvKey(key))
}

func dbEnvKey(key string) string {
	normalizedKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	return fmt.Sprintf("DATABASE_%s", normalizedKey)
}
