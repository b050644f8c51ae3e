package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/spf13/viper"
)

// InitPostgres opens the PostgreSQL connection used for API key accounting
func InitPostgres(cfg *viper.Viper) (*sqlx.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.GetString("pg-host"),
		cfg.GetInt("pg-port"),
		cfg.GetString("pg-user"),
		cfg.GetString("pg-password"),
		cfg.GetString("pg-db"),
		cfg.GetString("pg-ssl"),
	)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}

	return db, nil
}
