// Package historian drains finished races from the Redis results queue and persists them in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// popTimeout bounds each BLPOP so cancellation is noticed promptly.
const popTimeout = 3 * time.Second

type popper interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Sink persists a batch of results.
type Sink interface {
	Insert(ctx context.Context, results []models.RaceResult) error
}

// Service batches queue entries into the sink. A batch is flushed when it reaches BatchSize
// or every FlushDelay, whichever comes first.
type Service struct {
	rdb        popper
	sink       Sink
	queue      string
	batchSize  int
	flushDelay time.Duration
	log        logrus.FieldLogger

	batchMu sync.Mutex
	batch   []models.RaceResult
}

// Options configures a Service.
type Options struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	Logger     logrus.FieldLogger
}

// New builds a Service reading opts.Queue; zero options take the defaults (batch 20, flush 500ms).
func New(rdb popper, sink Sink, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		rdb:        rdb,
		sink:       sink,
		queue:      opts.Queue,
		batchSize:  opts.BatchSize,
		flushDelay: opts.FlushDelay,
		log:        opts.Logger.WithField("component", "historian"),
		batch:      make([]models.RaceResult, 0, opts.BatchSize),
	}
}

// Run reads the queue and flushes batches until ctx ends, then flushes what is left.
func (hs *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hs.readLoop(gctx) })
	g.Go(func() error { return hs.flushLoop(gctx) })
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hs.Flush(flushCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (hs *Service) readLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := hs.rdb.BLPop(ctx, popTimeout, hs.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			hs.log.WithError(err).Error("BLPop")
			// avoid spinning against a dead connection
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		// res[0] is the queue name and res[1] the payload
		var rec models.RaceResult
		if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
			hs.log.WithError(err).Warn("invalid race result record")
			continue
		}
		hs.add(ctx, rec)
	}
}

func (hs *Service) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hs.Flush(ctx)
		}
	}
}

func (hs *Service) add(ctx context.Context, rec models.RaceResult) {
	hs.batchMu.Lock()
	hs.batch = append(hs.batch, rec)
	full := len(hs.batch) >= hs.batchSize
	hs.batchMu.Unlock()
	if full {
		hs.Flush(ctx)
	}
}

// Flush writes the pending batch. A failed batch is put back in front of newer records.
func (hs *Service) Flush(ctx context.Context) {
	hs.batchMu.Lock()
	if len(hs.batch) == 0 {
		hs.batchMu.Unlock()
		return
	}
	pending := make([]models.RaceResult, len(hs.batch))
	copy(pending, hs.batch)
	hs.batch = hs.batch[:0]
	hs.batchMu.Unlock()

	if err := hs.sink.Insert(ctx, pending); err != nil {
		hs.log.WithError(err).WithField("count", len(pending)).Error("flush race results")
		hs.batchMu.Lock()
		hs.batch = append(pending, hs.batch...)
		hs.batchMu.Unlock()
		return
	}
	hs.log.Infof("Flushed %d race results to DB.", len(pending))
}

// Pending returns the number of buffered results.
func (hs *Service) Pending() int {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	return len(hs.batch)
}
