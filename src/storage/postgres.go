package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"chainflow/src/logger"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------

type PostgresRecorder struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresRecorder(cfg *models.MConfig, log *logger.Logger) *PostgresRecorder {
	return &PostgresRecorder{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *PostgresRecorder) Initialize() error {
	db, err := sql.Open("postgres", d.Config.Storage.DBConnectionString)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	query := `
		CREATE TABLE IF NOT EXISTS chain_signals (
			symbol TEXT,
			timeframe TEXT,
			datetime TIMESTAMPTZ,
			chain_detected SMALLINT,
			received_at TIMESTAMPTZ,
			PRIMARY KEY (symbol, timeframe, datetime)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create chain_signals: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresRecorder) SaveChainSignal(signal models.MChainSignal) error {
	if d.DB == nil {
		return fmt.Errorf("recorder not initialized")
	}

	_, err := d.DB.Exec(`
		INSERT INTO chain_signals
			(symbol, timeframe, datetime, chain_detected, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, timeframe, datetime)
		DO UPDATE SET chain_detected = EXCLUDED.chain_detected,
		              received_at = EXCLUDED.received_at`,
		signal.Symbol, signal.Timeframe,
		signal.Datetime, signal.ChainDetected, signal.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to save chain signal: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresRecorder) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
