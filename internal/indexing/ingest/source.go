package ingest

import (
	"context"
	"errors"

	"github.com/vietddude/blockmon/internal/core/domain"
)

// ErrStreamClosed is returned when the push stream ends. It is not recoverable.
var ErrStreamClosed = errors.New("block stream closed")

// Source yields candidate blocks for the ingestion loop.
// Next returns (nil, nil) when the cycle produced nothing to ingest.
type Source interface {
	Mode() domain.IngestMode
	Next(ctx context.Context) (*domain.Block, error)
}

// LatestFetcher fetches the current head block.
type LatestFetcher interface {
	FetchLatest(ctx context.Context) (*domain.Block, error)
}

// NumberFetcher fetches a block by height.
type NumberFetcher interface {
	FetchByNumber(ctx context.Context, number uint64) (*domain.Block, error)
}

// Poller pulls the head block once per scheduler tick.
type Poller struct {
	fetcher   LatestFetcher
	scheduler *Scheduler
	started   bool
}

func NewPoller(fetcher LatestFetcher, scheduler *Scheduler) *Poller {
	return &Poller{fetcher: fetcher, scheduler: scheduler}
}

func (p *Poller) Mode() domain.IngestMode {
	return domain.IngestModePoll
}

// Next fetches immediately on the first call, then once per tick.
// Errors are returned unretried.
func (p *Poller) Next(ctx context.Context) (*domain.Block, error) {
	if p.started {
		if _, err := p.scheduler.Wait(ctx); err != nil {
			return nil, err
		}
	}
	p.started = true
	return p.fetcher.FetchLatest(ctx)
}

// Pusher yields blocks delivered on a push stream.
type Pusher struct {
	stream <-chan domain.Block
}

func NewPusher(stream <-chan domain.Block) *Pusher {
	return &Pusher{stream: stream}
}

func (p *Pusher) Mode() domain.IngestMode {
	return domain.IngestModePush
}

// Next blocks until the stream delivers a block, the stream closes, or ctx ends.
func (p *Pusher) Next(ctx context.Context) (*domain.Block, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b, ok := <-p.stream:
		if !ok {
			return nil, ErrStreamClosed
		}
		return &b, nil
	}
}
