package storage

import (
	"fmt"

	"chainflow/src/interfaces"
	"chainflow/src/logger"
	"chainflow/src/models"
)

// -----------------------------------------------------------------------------
// Recorder selection. Persistence is an optional collaborator: "none" is
// the default and ingestion never blocks on a recorder.
// -----------------------------------------------------------------------------

func NewRecorder(cfg *models.MConfig, log *logger.Logger) (interfaces.IRecorder, error) {
	switch cfg.Storage.DBType {
	case "sqlite":
		return NewSQLiteRecorder(cfg, log), nil
	case "postgres":
		return NewPostgresRecorder(cfg, log), nil
	case "", "none":
		return &NoopRecorder{}, nil
	default:
		return nil, fmt.Errorf("unknown storage db_type %q", cfg.Storage.DBType)
	}
}

// -----------------------------------------------------------------------------

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (n *NoopRecorder) Initialize() error                         { return nil }
func (n *NoopRecorder) SaveChainSignal(models.MChainSignal) error { return nil }
func (n *NoopRecorder) Close() error                              { return nil }
