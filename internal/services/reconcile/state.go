package reconcile

import (
	"context"
	"database/sql"
	"time"

	"github.com/mccpackaging/vmibridge/internal/database"
	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/repository"
	"github.com/mccpackaging/vmibridge/internal/util"
)

// State is the durable store behind the engine. Atomically runs fn so that
// either every write it makes is kept or none is.
type State interface {
	Atomically(ctx context.Context, fn func(StateTx) error) error
}

// StateTx is the set of reads and writes available inside one atomic unit.
type StateTx interface {
	IsProcessed(ctx context.Context, key models.LineKey) (bool, error)
	MarkProcessed(ctx context.Context, key models.LineKey, runID string) error
	AddConsumption(ctx context.Context, key models.BucketKey, qty int64) (int64, error)
	NextPOSuffix(ctx context.Context, day time.Time) (int, error)
	NextReleaseOrder(ctx context.Context, poNumber string) (int, error)
	StageRecords(ctx context.Context, runID string, records []models.FulfillmentRecord) error
}

// SQLState keeps engine state in the bridge's SQLite database.
type SQLState struct {
	db          *database.DB
	sequences   *repository.SequenceRepository
	consumption *repository.ConsumptionRepository
	ledger      *repository.LedgerRepository
	records     *repository.RecordRepository
	idGenerator *util.IDGenerator
}

// NewSQLState creates a State over db.
func NewSQLState(db *database.DB) *SQLState {
	return &SQLState{
		db:          db,
		sequences:   repository.NewSequenceRepository(db.DB),
		consumption: repository.NewConsumptionRepository(db.DB),
		ledger:      repository.NewLedgerRepository(db.DB),
		records:     repository.NewRecordRepository(db.DB),
		idGenerator: util.NewIDGenerator(),
	}
}

// Atomically runs fn inside one SQLite transaction.
func (s *SQLState) Atomically(ctx context.Context, fn func(StateTx) error) error {
	return s.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(&sqlStateTx{state: s, tx: tx})
	})
}

type sqlStateTx struct {
	state *SQLState
	tx    *sql.Tx
}

func (t *sqlStateTx) IsProcessed(ctx context.Context, key models.LineKey) (bool, error) {
	return t.state.ledger.IsProcessed(ctx, t.tx, key)
}

func (t *sqlStateTx) MarkProcessed(ctx context.Context, key models.LineKey, runID string) error {
	return t.state.ledger.MarkProcessed(ctx, t.tx, key, runID)
}

func (t *sqlStateTx) AddConsumption(ctx context.Context, key models.BucketKey, qty int64) (int64, error) {
	return t.state.consumption.Add(ctx, t.tx, key, qty)
}

func (t *sqlStateTx) NextPOSuffix(ctx context.Context, day time.Time) (int, error) {
	return t.state.sequences.NextPOSuffix(ctx, t.tx, day)
}

func (t *sqlStateTx) NextReleaseOrder(ctx context.Context, poNumber string) (int, error) {
	return t.state.sequences.NextReleaseOrder(ctx, t.tx, poNumber)
}

func (t *sqlStateTx) StageRecords(ctx context.Context, runID string, records []models.FulfillmentRecord) error {
	for _, rec := range records {
		staged := &models.StagedRecord{
			ID:     t.state.idGenerator.NewID(),
			RunID:  runID,
			Record: rec,
		}
		if err := t.state.records.Insert(ctx, t.tx, staged); err != nil {
			return err
		}
	}
	return nil
}
