package repository

import (
	"database/sql"
	"log/slog"
)

// NewPostgresStore wraps a pgx-backed *sql.DB (see Open). The schema is
// managed by migrations; nothing is bootstrapped here.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlStore{db: db, dollar: true, logger: logger}
}
