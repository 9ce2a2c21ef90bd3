package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/indexing/metrics"
)

// DiscrepancyKind classifies a disagreement between the push and pull channels.
type DiscrepancyKind string

const (
	// DiscrepancyMissing means the secondary source errored or did not know the block.
	DiscrepancyMissing DiscrepancyKind = "missing"
	// DiscrepancyMismatch means both sources know the height but disagree on the hash.
	DiscrepancyMismatch DiscrepancyKind = "mismatch"
)

// Discrepancy is a reconciliation finding. It is reported, never acted on.
type Discrepancy struct {
	Kind      DiscrepancyKind
	Candidate domain.Block
	Secondary *domain.Block
	Err       error
}

func (d *Discrepancy) Error() string {
	switch d.Kind {
	case DiscrepancyMismatch:
		return fmt.Sprintf("block %d: hash mismatch: primary %s, secondary %s",
			d.Candidate.Number, d.Candidate.Hash.Hex(), d.Secondary.Hash.Hex())
	default:
		if d.Err != nil {
			return fmt.Sprintf("block %d: not found in secondary source: %v", d.Candidate.Number, d.Err)
		}
		return fmt.Sprintf("block %d: not found in secondary source", d.Candidate.Number)
	}
}

func (d *Discrepancy) Unwrap() error {
	return d.Err
}

// Reconciler cross-checks pushed blocks against an independent fetch by number.
type Reconciler struct {
	secondary NumberFetcher
	log       *slog.Logger
}

func NewReconciler(secondary NumberFetcher, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		secondary: secondary,
		log:       log.With("component", "reconciler"),
	}
}

// Check compares candidate with the secondary source's view of the same height.
// It returns nil on agreement. The candidate is accepted either way.
func (r *Reconciler) Check(ctx context.Context, candidate domain.Block) *Discrepancy {
	other, err := r.secondary.FetchByNumber(ctx, candidate.Number)
	if err != nil || other == nil {
		r.log.Error("block not found in secondary source",
			"number", candidate.Number,
			"hash", candidate.Hash.Hex(),
			"error", err,
		)
		metrics.ReconcileDiscrepancies.WithLabelValues(string(DiscrepancyMissing)).Inc()
		return &Discrepancy{Kind: DiscrepancyMissing, Candidate: candidate, Err: err}
	}

	if other.Hash != candidate.Hash {
		r.log.Error("hash mismatch between sources",
			"number", candidate.Number,
			"primary", candidate.Hash.Hex(),
			"secondary", other.Hash.Hex(),
		)
		metrics.ReconcileDiscrepancies.WithLabelValues(string(DiscrepancyMismatch)).Inc()
		return &Discrepancy{Kind: DiscrepancyMismatch, Candidate: candidate, Secondary: other}
	}

	return nil
}
