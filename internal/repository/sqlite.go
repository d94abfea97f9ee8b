package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_type TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	processing_stage TEXT,
	document_type TEXT,
	error_message TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_stages (
	document_id TEXT NOT NULL,
	stage_name TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	error_message TEXT,
	processing_time_ms INTEGER,
	metadata TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (document_id, stage_name)
);

CREATE TABLE IF NOT EXISTS extraction_results (
	document_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	raw_data TEXT NOT NULL DEFAULT '{}',
	processed_data TEXT NOT NULL DEFAULT '{}',
	confidence_score REAL NOT NULL DEFAULT 0,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	model_used TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (document_id, stage)
);

CREATE TABLE IF NOT EXISTS quality_scores (
	document_id TEXT PRIMARY KEY,
	overall_score REAL NOT NULL DEFAULT 0,
	completeness_score REAL NOT NULL DEFAULT 0,
	accuracy_score REAL NOT NULL DEFAULT 0,
	compliance_score REAL NOT NULL DEFAULT 0,
	quality_score REAL NOT NULL DEFAULT 0,
	decision TEXT NOT NULL,
	reasoning TEXT NOT NULL DEFAULT '{}',
	issues_found TEXT NOT NULL DEFAULT '[]',
	confidence REAL NOT NULL DEFAULT 0,
	judge_model TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_decisions (
	document_id TEXT PRIMARY KEY,
	routing_action TEXT NOT NULL,
	routing_reason TEXT NOT NULL DEFAULT '',
	integration_status TEXT NOT NULL,
	integration_data TEXT NOT NULL DEFAULT '{}',
	human_review_required INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_user ON documents (user_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);
`

// OpenSQLite opens (or creates) an embedded SQLite database and bootstraps the
// schema. Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (Store, *sql.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("bootstrap sqlite schema: %w", err)
	}
	logger.Info("sqlite store ready", "path", dsn)
	return &sqlStore{db: db, dollar: false, logger: logger}, db, nil
}
