package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alex-user-go/fares/internal/fare"
)

var (
	// ErrStatus is returned when a provider answers with a status other than
	// 200 or 201.
	ErrStatus = errors.New("unexpected status")
	// ErrParse wraps failures raised while parsing a successful response.
	ErrParse = errors.New("parse failed")
)

// OutcomeKind says how an attempt ended.
type OutcomeKind int

const (
	// Parsed means the response was accepted by the parse callback.
	Parsed OutcomeKind = iota
	// Failed means a transport, status, or parse failure. The caller may
	// issue the request again.
	Failed
	// GaveUp means the context exhausted its attempt budget. It is terminal.
	GaveUp
)

// String returns the metric label of the kind.
func (k OutcomeKind) String() string {
	switch k {
	case Parsed:
		return "parsed"
	case Failed:
		return "failed"
	case GaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// Outcome is the single result delivered for each SendRequest call.
type Outcome struct {
	Kind OutcomeKind
	// Result is set when Kind is GaveUp: the best known result or the
	// default summary.
	Result *fare.SearchInfo
	// Err is set when Kind is Failed.
	Err error
	// Status is the HTTP status when a response was received.
	Status int
}

// Request describes one attempt.
type Request struct {
	Manager         string
	URL             string
	Method          string
	Header          map[string]string
	WithCredentials bool
	Body            []byte

	// Context is the owning request context. A fresh one is used when nil.
	Context *RequestContext
	// Timed records Baseline plus the measured round trip into
	// Context.Times after the call completes.
	Timed    bool
	Baseline time.Duration

	// Parse receives the body of a 200 or 201 response. An error or panic
	// turns the attempt into a Failed outcome.
	Parse func(body []byte) error
}

// Observer receives one notification per completed attempt.
type Observer interface {
	ObserveDispatch(manager, outcome string, elapsed time.Duration)
}

// Dispatcher issues requests asynchronously and reports each attempt's
// outcome on a channel.
type Dispatcher struct {
	transport Transport
	observer  Observer
	logger    *slog.Logger
}

// NewDispatcher creates a new Dispatcher. observer may be nil.
func NewDispatcher(transport Transport, observer Observer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		transport: transport,
		observer:  observer,
		logger:    logger,
	}
}

// SendRequest issues req in the background and returns immediately. The
// returned channel receives exactly one Outcome and is then closed.
//
// The give-up check runs before the response is looked at, so a GaveUp
// outcome is never preceded by a parse of the same response. Failures never
// escape as panics; they are all reported as Outcomes.
func (d *Dispatcher) SendRequest(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)
	if req.Context == nil {
		req.Context = &RequestContext{}
	}

	go func() {
		defer close(out)

		start := time.Now()
		outcome := d.attempt(ctx, req)
		elapsed := time.Since(start)

		if d.observer != nil {
			d.observer.ObserveDispatch(req.Manager, outcome.Kind.String(), elapsed)
		}
		d.logger.Debug("dispatch attempt finished",
			"manager", req.Manager,
			"outcome", outcome.Kind.String(),
			"status", outcome.Status,
			"attempts", req.Context.Attempts(),
			"duration_ms", elapsed.Milliseconds(),
		)

		out <- outcome
	}()

	return out
}

func (d *Dispatcher) attempt(ctx context.Context, req Request) Outcome {
	rc := req.Context

	start := time.Now()
	resp, err := d.do(ctx, req)
	if req.Timed {
		rc.Times = append(rc.Times, req.Baseline+time.Since(start))
	}

	var given *fare.SearchInfo
	if ShouldGiveUp(rc, func(_ *RequestContext, info *fare.SearchInfo) { given = info }) {
		return Outcome{Kind: GaveUp, Result: given}
	}

	if err != nil {
		return Outcome{Kind: Failed, Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Outcome{
			Kind:   Failed,
			Err:    fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode),
			Status: resp.StatusCode,
		}
	}

	if err := parse(req.Parse, resp.Body); err != nil {
		return Outcome{Kind: Failed, Err: err, Status: resp.StatusCode}
	}
	return Outcome{Kind: Parsed, Status: resp.StatusCode}
}

// do calls the transport, turning a panic into an error.
func (d *Dispatcher) do(ctx context.Context, req Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("transport panic: %v", r)
		}
	}()

	resp, err = d.transport.Do(ctx, Call{
		Method:          req.Method,
		URL:             req.URL,
		Header:          req.Header,
		WithCredentials: req.WithCredentials,
		Body:            req.Body,
	})
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	return resp, err
}

func parse(fn func([]byte) error, body []byte) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrParse, r)
		}
	}()

	if err := fn(body); err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
	return nil
}
