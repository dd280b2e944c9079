package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"chainflow/src/logger"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------

type SQLiteRecorder struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteRecorder(cfg *models.MConfig, log *logger.Logger) *SQLiteRecorder {
	return &SQLiteRecorder{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *SQLiteRecorder) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.Storage.DBPath)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteRecorder) createTables() error {
	// SQLite types: INTEGER for int64, REAL for float64, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS chain_signals (
			symbol TEXT,
			timeframe TEXT,
			datetime INTEGER,
			chain_detected INTEGER,
			received_at INTEGER,
			PRIMARY KEY (symbol, timeframe, datetime)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create chain_signals: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteRecorder) SaveChainSignal(signal models.MChainSignal) error {
	if d.DB == nil {
		return fmt.Errorf("recorder not initialized")
	}

	_, err := d.DB.Exec(`
		INSERT OR REPLACE INTO chain_signals
			(symbol, timeframe, datetime, chain_detected, received_at)
		VALUES (?, ?, ?, ?, ?)`,
		signal.Symbol, signal.Timeframe,
		signal.Datetime.Unix(), signal.ChainDetected, signal.ReceivedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save chain signal: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteRecorder) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
