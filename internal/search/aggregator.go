package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alex-user-go/fares/internal/dispatch"
	"github.com/alex-user-go/fares/internal/fare"
	"github.com/alex-user-go/fares/internal/manager"
	"github.com/alex-user-go/fares/internal/search/types"
)

var (
	// ErrNoManagers is returned when no registered manager has an endpoint.
	ErrNoManagers = errors.New("no managers with an endpoint")
	// ErrAllFailed is returned when every manager ended without a result.
	ErrAllFailed = errors.New("all managers failed")
)

// Aggregator runs one search session per registered manager and merges their
// fares.
type Aggregator struct {
	registry   *manager.Registry
	dispatcher *dispatch.Dispatcher
	airlines   fare.Airlines
	timeout    time.Duration
	logger     *slog.Logger
}

// NewAggregator creates a new Aggregator.
func NewAggregator(
	registry *manager.Registry,
	dispatcher *dispatch.Dispatcher,
	airlines fare.Airlines,
	timeout time.Duration,
	logger *slog.Logger,
) *Aggregator {
	return &Aggregator{
		registry:   registry,
		dispatcher: dispatcher,
		airlines:   airlines,
		timeout:    timeout,
		logger:     logger,
	}
}

// Search queries every manager concurrently and aggregates results. Results
// keep registry order.
func (a *Aggregator) Search(ctx context.Context, q types.Query) (*types.Result, error) {
	var managers []manager.Config
	for _, m := range a.registry.Configs() {
		if m.URL != "" {
			managers = append(managers, m)
		}
	}
	if len(managers) == 0 {
		return nil, ErrNoManagers
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]types.ManagerResult, len(managers))
	for i, m := range managers {
		wg.Go(func() {
			results[i] = a.searchManager(ctx, m, q, body)
		})
	}

	// Wait for all managers to complete
	wg.Wait()

	result := &types.Result{
		Managers:      results,
		Combined:      fare.Default(),
		ManagersTotal: len(managers),
	}
	var errs []string
	for _, r := range results {
		switch {
		case r.Info == nil:
			result.ManagersFailed++
			errs = append(errs, r.ID+": "+r.Error)
			continue
		case r.GaveUp:
			result.ManagersGaveUp++
		default:
			result.ManagersSucceeded++
		}
		fare.MergeInfo(result.Combined, r.Info, a.airlines)
	}

	if len(errs) > 0 {
		a.logger.Error("manager search errors",
			"origin", q.Origin,
			"destination", q.Destination,
			"failed_count", result.ManagersFailed,
			"errors", errs)

		// If all managers failed, return error
		if result.ManagersFailed == len(managers) {
			return nil, fmt.Errorf("%w: %s", ErrAllFailed, errs[0])
		}
	}

	return result, nil
}

// searchManager drives one manager: it re-issues the request after failures,
// polls again while the provider reports pending fares (at most MaxWaiting
// times), and stops at the first complete answer or when the dispatcher gives
// up. GapTimeServer is both the timing baseline and the pause between
// attempts.
func (a *Aggregator) searchManager(ctx context.Context, m manager.Config, q types.Query, body []byte) types.ManagerResult {
	rc := &dispatch.RequestContext{}
	result := types.ManagerResult{ID: m.ID, Name: m.Name}

	var (
		polls   int
		lastErr error
	)
	for {
		var pending bool
		outcome := <-a.dispatcher.SendRequest(ctx, dispatch.Request{
			Manager:         m.ID,
			URL:             m.URL,
			Method:          m.Method,
			Header:          m.Headers,
			WithCredentials: m.WithCredentials,
			Body:            body,
			Context:         rc,
			Timed:           true,
			Baseline:        m.GapTimeServer,
			Parse: func(b []byte) error {
				var quote types.Quote
				if err := json.Unmarshal(b, &quote); err != nil {
					return err
				}
				if err := quote.Normalize(); err != nil {
					return err
				}
				if rc.Info == nil {
					rc.Info = fare.Default()
				}
				fare.MergeCompanyFares(rc.Info, quote.ByCompany, a.airlines)
				fare.MergeTotalPrices(rc.Info, quote.Departure, quote.Return, q.OneWay())
				pending = quote.Pending
				return nil
			},
		})
		result.Attempts = rc.Attempts()

		switch outcome.Kind {
		case dispatch.GaveUp:
			a.logger.Warn("manager gave up",
				"manager", m.ID,
				"attempts", result.Attempts,
				"last_error", lastErr)
			result.GaveUp = true
			result.Info = outcome.Result
			return result
		case dispatch.Parsed:
			if !pending || polls >= m.MaxWaiting {
				result.Info = rc.Info
				return result
			}
			polls++
		case dispatch.Failed:
			lastErr = outcome.Err
			a.logger.Debug("manager attempt failed",
				"manager", m.ID,
				"attempt", result.Attempts,
				"error", outcome.Err)
		}

		if err := pause(ctx, m.GapTimeServer); err != nil {
			result.Info = rc.Info
			if result.Info == nil {
				if lastErr != nil {
					err = fmt.Errorf("%w (last attempt: %w)", err, lastErr)
				}
				result.Error = err.Error()
			}
			return result
		}
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return context.Cause(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
