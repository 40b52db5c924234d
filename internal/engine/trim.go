package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/lazypower/fade/internal/store"
)

// TrimConfig controls a trimming run.
type TrimConfig struct {
	Threshold float64
	BatchSize int
	// MinAge, when positive, restricts the scan to items created more than MinAge ago.
	MinAge time.Duration
	// Timeout, when positive, bounds a single run.
	Timeout time.Duration
}

// DefaultTrimConfig returns threshold 500000 and batch size 100.
func DefaultTrimConfig() TrimConfig {
	return TrimConfig{
		Threshold: 500000,
		BatchSize: 100,
	}
}

// TrimResult reports a run. Err is set when the run aborted; items deleted
// before the failure stay deleted.
type TrimResult struct {
	Scanned int   `json:"scanned"`
	Deleted int   `json:"deleted"`
	Err     error `json:"-"`
}

// Trimmer evicts items whose trim score exceeds the threshold.
type Trimmer struct {
	Store  store.VectorStore
	Params Params
	Config TrimConfig

	now     func() time.Time
	running atomic.Bool
}

// NewTrimmer creates a Trimmer.
func NewTrimmer(vs store.VectorStore, params Params, cfg TrimConfig) *Trimmer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultTrimConfig().BatchSize
	}
	return &Trimmer{
		Store:  vs,
		Params: params,
		Config: cfg,
		now:    time.Now,
	}
}

// Running reports whether a run is in progress.
func (t *Trimmer) Running() bool {
	return t.running.Load()
}

// Run walks the whole store page by page, deleting above-threshold items with
// one delete call per page. A run requested while another is active returns
// ErrTrimInProgress without touching the store. Other failures abort the run
// and are reported in TrimResult.Err.
func (t *Trimmer) Run(ctx context.Context) TrimResult {
	if !t.running.CompareAndSwap(false, true) {
		return TrimResult{Err: ErrTrimInProgress}
	}
	defer t.running.Store(false)

	if t.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Config.Timeout)
		defer cancel()
	}

	start := t.now()
	now := float64(start.UnixNano()) / 1e9

	var filter *store.Filter
	if t.Config.MinAge > 0 {
		cutoff := now - t.Config.MinAge.Seconds()
		filter = &store.Filter{CreatedBefore: &cutoff}
	}

	var res TrimResult
	res.Err = t.walk(ctx, now, filter, &res)

	if res.Err != nil {
		log.Printf("trim: aborted after scanning %d, deleted %d: %v", res.Scanned, res.Deleted, res.Err)
	} else {
		log.Printf("trim: scanned %d, deleted %d in %s", res.Scanned, res.Deleted, time.Since(start).Round(time.Millisecond))
	}
	return res
}

func (t *Trimmer) walk(ctx context.Context, now float64, filter *store.Filter, res *TrimResult) error {
	var offset string
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("trim cancelled: %w", err)
		}

		page, err := t.Store.Scroll(ctx, store.ScrollRequest{
			Offset: offset,
			Limit:  t.Config.BatchSize,
			Filter: filter,
		})
		if err != nil {
			return fmt.Errorf("scroll page: %w", err)
		}

		res.Scanned += len(page.Points)

		var doomed []string
		for _, p := range page.Points {
			// No payload, nothing to score.
			if p.Payload == nil {
				continue
			}
			if t.Params.TrimScore(p.Payload, now) > t.Config.Threshold {
				doomed = append(doomed, p.ID)
			}
		}

		if len(doomed) > 0 {
			if err := t.Store.Delete(ctx, doomed); err != nil {
				return fmt.Errorf("delete %d items: %w", len(doomed), err)
			}
			res.Deleted += len(doomed)
		}

		if page.NextOffset == "" {
			return nil
		}
		offset = page.NextOffset
	}
}
