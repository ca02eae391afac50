// Package reconcile drives one import pass: it walks a source of decoded
// records, gates each against the stored timestamp, writes through the
// descriptor, and sorts failures into skippable and fatal. The pass
// result is returned to the caller rather than accumulated anywhere.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/eyeonus/EDDBlink/pkg/apperrors"
)

// progressEvery is how many records pass between progress callbacks.
const progressEvery = 1000

// Source yields the records of one dump file. Next returns io.EOF once
// the source is exhausted; any other error means the file is malformed
// and the pass must abort.
type Source[R any] interface {
	Next() (R, error)
	Total() int
}

// Descriptor tells the engine how to reconcile one record kind.
type Descriptor[R any] struct {
	// Kind names the pass in logs and results.
	Kind string

	// Table is marked dirty whenever Upsert reports a write.
	Table string

	// Stored returns the timestamp already recorded for a record, or
	// apperrors.ErrNotFound on first sighting. When nil the kind has no
	// freshness gate and every record is offered to Upsert.
	Stored func(ctx context.Context, rec R) (int64, error)

	// Incoming extracts a record's own timestamp. Consulted only when
	// Stored is set. A record wins only by being strictly newer.
	Incoming func(rec R) int64

	// Upsert writes a record and reports whether anything changed.
	Upsert func(ctx context.Context, rec R) (bool, error)

	// Skippable classifies Upsert errors that should drop the record
	// and keep the pass alive, typically constraint violations.
	Skippable func(err error) bool

	// AfterRecord runs for every record whether or not the gate let the
	// main row through. Station vendor sets are maintained here, gated
	// on their own timestamps. It returns extra tables it dirtied.
	AfterRecord func(ctx context.Context, rec R) ([]string, error)

	// AfterPass runs once after the source is exhausted. Item display
	// order is recomputed here. It returns extra tables it dirtied.
	AfterPass func(ctx context.Context) ([]string, error)

	// Progress, when set, is called every progressEvery records and
	// once at the end of the pass.
	Progress func(done, total int)
}

// Run reconciles every record in src per the descriptor and returns what
// happened. A malformed record or an unclassified write error aborts the
// pass; everything already committed to the result is reported as-is.
func Run[R any](ctx context.Context, d Descriptor[R], src Source[R], logger *zap.Logger) (Result, error) {
	res := Result{Kind: d.Kind, Dirty: Tables{}}
	log := logger.Named("reconcile").With(zap.String("kind", d.Kind))

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("%s source: %w", d.Kind, err)
		}
		res.Processed++

		fresh := true
		if d.Stored != nil {
			stored, err := d.Stored(ctx, rec)
			switch {
			case errors.Is(err, apperrors.ErrNotFound):
				// First sighting always wins.
			case err != nil:
				return res, err
			case d.Incoming(rec) <= stored:
				fresh = false
				res.Stale++
			}
		}

		if fresh {
			wrote, err := d.Upsert(ctx, rec)
			switch {
			case err != nil && d.Skippable != nil && d.Skippable(err):
				res.Skipped++
				log.Warn("skipping record", zap.Error(err))
			case err != nil:
				return res, err
			case wrote:
				res.Written++
				res.Dirty.Mark(d.Table)
			}
		}

		if d.AfterRecord != nil {
			extra, err := d.AfterRecord(ctx, rec)
			if err != nil {
				return res, err
			}
			res.Dirty.Mark(extra...)
		}

		if d.Progress != nil && res.Processed%progressEvery == 0 {
			d.Progress(res.Processed, src.Total())
		}
	}

	if d.AfterPass != nil {
		extra, err := d.AfterPass(ctx)
		if err != nil {
			return res, err
		}
		res.Dirty.Mark(extra...)
	}

	if d.Progress != nil {
		d.Progress(res.Processed, src.Total())
	}

	log.Info("pass complete",
		zap.Int("processed", res.Processed),
		zap.Int("written", res.Written),
		zap.Int("stale", res.Stale),
		zap.Int("skipped", res.Skipped))
	return res, nil
}
