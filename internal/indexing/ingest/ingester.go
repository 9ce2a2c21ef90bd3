package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/blockmon/internal/core/domain"
	"github.com/vietddude/blockmon/internal/indexing/metrics"
)

const tracerName = "github.com/vietddude/blockmon/internal/indexing/ingest"

// StateWriter receives accepted blocks.
type StateWriter interface {
	Update(block domain.Block) error
}

// HeadPublisher mirrors accepted blocks to an external store.
type HeadPublisher interface {
	Publish(ctx context.Context, block domain.Block) error
}

// Config holds the collaborators of an Ingester.
type Config struct {
	Source Source
	State  StateWriter

	// Reconciler is required in push mode and ignored in poll mode.
	Reconciler *Reconciler

	// Publisher is optional.
	Publisher HeadPublisher

	Logger *slog.Logger
}

// Ingester is the single writer of blocks into the monitor state.
type Ingester struct {
	source     Source
	state      StateWriter
	reconciler *Reconciler
	publisher  HeadPublisher
	log        *slog.Logger

	mu    sync.RWMutex
	phase Phase
}

// NewIngester validates cfg and returns an idle ingester.
func NewIngester(cfg Config) (*Ingester, error) {
	if cfg.Source == nil {
		return nil, errors.New("ingest: source is required")
	}
	if cfg.State == nil {
		return nil, errors.New("ingest: state is required")
	}
	if cfg.Source.Mode() == domain.IngestModePush && cfg.Reconciler == nil {
		return nil, errors.New("ingest: push mode requires a reconciler")
	}
	if cfg.Source.Mode() == domain.IngestModePoll {
		cfg.Reconciler = nil
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Ingester{
		source:     cfg.Source,
		state:      cfg.State,
		reconciler: cfg.Reconciler,
		publisher:  cfg.Publisher,
		log:        cfg.Logger.With("component", "ingester", "mode", cfg.Source.Mode()),
		phase:      PhaseIdle,
	}, nil
}

// Mode reports the configured ingestion strategy.
func (i *Ingester) Mode() domain.IngestMode {
	return i.source.Mode()
}

// Phase reports where the loop currently is within a cycle.
func (i *Ingester) Phase() Phase {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.phase
}

// Run ingests until ctx is cancelled (returns nil) or an unrecoverable error
// occurs: a closed push stream or an inaccessible state.
func (i *Ingester) Run(ctx context.Context) error {
	i.log.Info("ingestion started")
	defer i.log.Info("ingestion stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := i.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// cycle runs one Idle → Fetching → [Reconciling] → Updated → Idle pass.
// It returns an error only when the loop must stop.
func (i *Ingester) cycle(ctx context.Context) error {
	mode := string(i.source.Mode())
	i.transition(PhaseFetching)

	block, err := i.source.Next(ctx)
	if err != nil {
		i.transition(PhaseIdle)
		return i.handleSourceError(ctx, mode, err)
	}
	if block == nil {
		i.transition(PhaseIdle)
		i.log.Debug("no block returned, skipping cycle")
		metrics.IngestSkipped.WithLabelValues(mode, string(domain.FailureTypeAbsent)).Inc()
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ingest.accept",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("block.number", int64(block.Number)),
			attribute.String("block.hash", block.Hash.Hex()),
			attribute.String("ingest.mode", mode),
		),
	)
	defer span.End()

	if i.reconciler != nil {
		i.transition(PhaseReconciling)
		if d := i.reconciler.Check(ctx, *block); d != nil {
			span.SetAttributes(attribute.String("reconcile.discrepancy", string(d.Kind)))
		}
	}

	i.transition(PhaseUpdated)
	if err := i.state.Update(*block); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "state update failed")
		return fmt.Errorf("update state: %w", err)
	}
	metrics.RecordBlock(mode, block.Number, block.Timestamp)

	i.log.Debug("block accepted",
		"number", block.Number,
		"hash", block.Hash.Hex(),
		"timestamp", block.Timestamp,
	)

	if i.publisher != nil {
		if err := i.publisher.Publish(ctx, *block); err != nil {
			i.log.Warn("failed to publish head", "number", block.Number, "error", err)
		}
	}

	i.transition(PhaseIdle)
	return nil
}

func (i *Ingester) handleSourceError(ctx context.Context, mode string, err error) error {
	if errors.Is(err, ErrStreamClosed) {
		i.log.Error("block stream closed")
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	reason := "error"
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		reason = string(pe.Type)
	}
	metrics.IngestSkipped.WithLabelValues(mode, reason).Inc()
	i.log.Warn("failed to fetch block, skipping cycle", "error", err)
	return nil
}

func (i *Ingester) transition(to Phase) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !CanTransition(i.phase, to) {
		i.log.Error("unexpected phase change", "from", i.phase, "to", to, "error", ErrInvalidTransition)
	}
	i.phase = to
}
