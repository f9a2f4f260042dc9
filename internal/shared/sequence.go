package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceKind selects a document numbering scheme.
type SequenceKind string

const (
	// SequencePurchaseOrder yields PO-YYYYMM-NNNN, resetting monthly.
	SequencePurchaseOrder SequenceKind = "PO"
	// SequenceStockBatch yields BATCH-YYYYMMDD-NNN, resetting daily.
	SequenceStockBatch SequenceKind = "BATCH"
)

// Numerator allocates gapless document numbers from the sequences table.
// The upsert increments under row lock, so concurrent callers never collide.
type Numerator struct {
	pool *pgxpool.Pool
}

// NewNumerator constructs a Numerator.
func NewNumerator(pool *pgxpool.Pool) *Numerator {
	return &Numerator{pool: pool}
}

// Next allocates the next number for the kind at the given time.
func (n *Numerator) Next(ctx context.Context, kind SequenceKind, at time.Time) (string, error) {
	if n == nil || n.pool == nil {
		return "", errors.New("numerator not initialised")
	}
	scope := SequenceScope(kind, at)
	var counter int64
	err := n.pool.QueryRow(ctx, `INSERT INTO sequences (kind, scope, counter) VALUES ($1, $2, 1)
ON CONFLICT (kind, scope) DO UPDATE SET counter = sequences.counter + 1
RETURNING counter`, string(kind), scope).Scan(&counter)
	if err != nil {
		return "", fmt.Errorf("%w: allocate %s sequence: %v", ErrStorage, kind, err)
	}
	return FormatSequence(kind, scope, counter), nil
}

// SequenceScope returns the reset scope for the kind: month for purchase
// orders, day for stock batches.
func SequenceScope(kind SequenceKind, at time.Time) string {
	if kind == SequenceStockBatch {
		return at.Format("20060102")
	}
	return at.Format("200601")
}

// FormatSequence renders a document number from its parts.
func FormatSequence(kind SequenceKind, scope string, counter int64) string {
	if kind == SequenceStockBatch {
		return fmt.Sprintf("BATCH-%s-%03d", scope, counter)
	}
	return fmt.Sprintf("PO-%s-%04d", scope, counter)
}
