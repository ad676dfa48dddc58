package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alex-user-go/fares/internal/dispatch"
	"github.com/alex-user-go/fares/internal/fare"
)

// fakeTransport answers every call with the configured response or error.
type fakeTransport struct {
	mu     sync.Mutex
	calls  []dispatch.Call
	status int
	body   string
	err    error
	panic  bool
}

func (f *fakeTransport) Do(_ context.Context, call dispatch.Call) (*dispatch.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.panic {
		panic("connection exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &dispatch.Response{StatusCode: f.status, Body: []byte(f.body)}, nil
}

// recordingObserver collects outcome labels.
type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveDispatch(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan dispatch.Outcome) dispatch.Outcome {
	t.Helper()
	select {
	case o, ok := <-ch:
		if !ok {
			t.Fatal("channel closed without an outcome")
		}
		if _, more := <-ch; more {
			t.Fatal("received a second outcome")
		}
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
	return dispatch.Outcome{}
}

func TestShouldGiveUp(t *testing.T) {
	for attempts := 0; attempts <= 7; attempts++ {
		rc := &dispatch.RequestContext{Times: make([]time.Duration, attempts)}

		calls := 0
		var got *fare.SearchInfo
		gaveUp := dispatch.ShouldGiveUp(rc, func(_ *dispatch.RequestContext, info *fare.SearchInfo) {
			calls++
			got = info
		})

		wantGiveUp := attempts == 7
		if gaveUp != wantGiveUp {
			t.Errorf("attempts=%d: ShouldGiveUp = %v, want %v", attempts, gaveUp, wantGiveUp)
		}
		if !wantGiveUp {
			if calls != 0 {
				t.Errorf("attempts=%d: callback fired %d times", attempts, calls)
			}
			continue
		}

		if calls != 1 {
			t.Fatalf("callback fired %d times, want 1", calls)
		}
		want := fare.NotFoundVector()
		if got.Prices != want {
			t.Errorf("default prices = %v, want %v", got.Prices, want)
		}
		if len(got.ByCompany) != 0 {
			t.Errorf("default companies = %v, want empty", got.ByCompany)
		}
	}
}

func TestShouldGiveUp_KeepsBestKnownResult(t *testing.T) {
	best := &fare.SearchInfo{Prices: fare.PriceVector{300, 0, 0}}
	rc := &dispatch.RequestContext{Times: make([]time.Duration, 7), Info: best}

	var got *fare.SearchInfo
	if !dispatch.ShouldGiveUp(rc, func(_ *dispatch.RequestContext, info *fare.SearchInfo) { got = info }) {
		t.Fatal("expected give up")
	}
	if got != best {
		t.Errorf("expected best known result, got %+v", got)
	}
}

func TestSendRequest_Parsed(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusCreated} {
		tr := &fakeTransport{status: status, body: `{"ok":true}`}
		obs := &recordingObserver{}
		d := dispatch.NewDispatcher(tr, obs, testLogger())

		var body string
		rc := &dispatch.RequestContext{}
		o := receive(t, d.SendRequest(context.Background(), dispatch.Request{
			Manager: "gol",
			URL:     "http://provider/search",
			Context: rc,
			Timed:   true,
			Parse: func(b []byte) error {
				body = string(b)
				return nil
			},
		}))

		if o.Kind != dispatch.Parsed {
			t.Fatalf("status %d: kind = %v, want parsed (err %v)", status, o.Kind, o.Err)
		}
		if body != `{"ok":true}` {
			t.Errorf("parse received %q", body)
		}
		if rc.Attempts() != 1 {
			t.Errorf("attempts = %d, want 1", rc.Attempts())
		}
		if len(obs.outcomes) != 1 || obs.outcomes[0] != "parsed" {
			t.Errorf("observer outcomes = %v", obs.outcomes)
		}
	}
}

func TestSendRequest_Failures(t *testing.T) {
	tests := []struct {
		name      string
		transport *fakeTransport
		parse     func([]byte) error
		wantErr   error
		parsed    bool
	}{
		{
			name:      "transport error",
			transport: &fakeTransport{err: errors.New("connection reset")},
		},
		{
			name:      "transport panic",
			transport: &fakeTransport{panic: true},
		},
		{
			name:      "bad status skips parse",
			transport: &fakeTransport{status: http.StatusBadGateway, body: "oops"},
			wantErr:   dispatch.ErrStatus,
		},
		{
			name:      "parse error",
			transport: &fakeTransport{status: http.StatusOK, body: "{"},
			parse:     func([]byte) error { return errors.New("unexpected EOF") },
			wantErr:   dispatch.ErrParse,
			parsed:    true,
		},
		{
			name:      "parse panic",
			transport: &fakeTransport{status: http.StatusOK, body: "{}"},
			parse:     func([]byte) error { panic("nil map") },
			wantErr:   dispatch.ErrParse,
			parsed:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := dispatch.NewDispatcher(tt.transport, nil, testLogger())

			parsed := false
			parse := tt.parse
			if parse == nil {
				parse = func([]byte) error { return nil }
			}
			o := receive(t, d.SendRequest(context.Background(), dispatch.Request{
				URL:   "http://provider/search",
				Timed: true,
				Parse: func(b []byte) error {
					parsed = true
					return parse(b)
				},
			}))

			if o.Kind != dispatch.Failed {
				t.Fatalf("kind = %v, want failed", o.Kind)
			}
			if o.Err == nil {
				t.Fatal("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(o.Err, tt.wantErr) {
				t.Errorf("err = %v, want %v", o.Err, tt.wantErr)
			}
			if parsed != tt.parsed {
				t.Errorf("parse called = %v, want %v", parsed, tt.parsed)
			}
		})
	}
}

func TestSendRequest_GivesUpOnSeventhAttempt(t *testing.T) {
	tr := &fakeTransport{err: errors.New("timeout")}
	obs := &recordingObserver{}
	d := dispatch.NewDispatcher(tr, obs, testLogger())
	rc := &dispatch.RequestContext{}

	var kinds []dispatch.OutcomeKind
	var last dispatch.Outcome
	for range 7 {
		last = receive(t, d.SendRequest(context.Background(), dispatch.Request{
			URL:      "http://provider/search",
			Context:  rc,
			Timed:    true,
			Baseline: 500 * time.Millisecond,
		}))
		kinds = append(kinds, last.Kind)
	}

	for i, k := range kinds[:6] {
		if k != dispatch.Failed {
			t.Errorf("attempt %d: kind = %v, want failed", i+1, k)
		}
	}
	if last.Kind != dispatch.GaveUp {
		t.Fatalf("attempt 7: kind = %v, want gave_up", last.Kind)
	}
	if last.Result == nil || last.Result.Prices != fare.NotFoundVector() {
		t.Errorf("give-up result = %+v, want default", last.Result)
	}
	if last.Err != nil {
		t.Errorf("give-up carries error %v", last.Err)
	}
	if rc.Attempts() != 7 {
		t.Errorf("attempts = %d, want 7", rc.Attempts())
	}
	for i, sample := range rc.Times {
		if sample < 500*time.Millisecond {
			t.Errorf("sample %d = %v, want at least the baseline", i, sample)
		}
	}
	if got := obs.outcomes[len(obs.outcomes)-1]; got != "gave_up" {
		t.Errorf("last observed outcome = %q", got)
	}
}

func TestSendRequest_GiveUpSkipsParse(t *testing.T) {
	tr := &fakeTransport{status: http.StatusOK, body: "{}"}
	d := dispatch.NewDispatcher(tr, nil, testLogger())
	rc := &dispatch.RequestContext{Times: make([]time.Duration, 6)}

	parsed := false
	o := receive(t, d.SendRequest(context.Background(), dispatch.Request{
		URL:     "http://provider/search",
		Context: rc,
		Timed:   true,
		Parse: func([]byte) error {
			parsed = true
			return nil
		},
	}))

	if o.Kind != dispatch.GaveUp {
		t.Fatalf("kind = %v, want gave_up", o.Kind)
	}
	if parsed {
		t.Error("parse ran after give-up")
	}
}

func TestSendRequest_UntimedNeverGivesUp(t *testing.T) {
	tr := &fakeTransport{err: errors.New("down")}
	d := dispatch.NewDispatcher(tr, nil, testLogger())
	rc := &dispatch.RequestContext{}

	for i := range 10 {
		o := receive(t, d.SendRequest(context.Background(), dispatch.Request{URL: "http://provider", Context: rc}))
		if o.Kind != dispatch.Failed {
			t.Fatalf("attempt %d: kind = %v, want failed", i+1, o.Kind)
		}
	}
	if rc.Attempts() != 0 {
		t.Errorf("untimed requests recorded %d samples", rc.Attempts())
	}
}

func TestSendRequest_ReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	d := dispatch.NewDispatcher(dispatch.NewHTTPTransport(2*time.Second), nil, testLogger())
	ch := d.SendRequest(context.Background(), dispatch.Request{URL: srv.URL})

	select {
	case <-ch:
		t.Fatal("outcome delivered before the provider answered")
	default:
	}
}

func TestHTTPTransport_BodyLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{name: "at limit", size: dispatch.MaxBodySize},
		{name: "over limit", size: dispatch.MaxBodySize + 1, wantErr: dispatch.ErrResponseTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(bytes.Repeat([]byte("a"), tt.size))
			}))
			defer srv.Close()

			resp, err := dispatch.NewHTTPTransport(5*time.Second).Do(context.Background(), dispatch.Call{URL: srv.URL})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(resp.Body) != tt.size {
				t.Errorf("body length = %d, want %d", len(resp.Body), tt.size)
			}
		})
	}
}

func TestHTTPTransport_Do(t *testing.T) {
	var (
		gotMethod string
		gotHeader string
		gotType   string
		gotBody   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Api-Key")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"departure":[1,2,3]}`))
	}))
	defer srv.Close()

	tr := dispatch.NewHTTPTransport(time.Second)
	resp, err := tr.Do(context.Background(), dispatch.Call{
		URL:    srv.URL,
		Header: map[string]string{"X-Api-Key": "secret"},
		Body:   []byte(`{"origin":"GRU"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST by default", gotMethod)
	}
	if gotHeader != "secret" {
		t.Errorf("header = %q", gotHeader)
	}
	if gotType != "application/json" {
		t.Errorf("content type = %q", gotType)
	}
	if gotBody != `{"origin":"GRU"}` {
		t.Errorf("body = %q", gotBody)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"departure":[1,2,3]}` {
		t.Errorf("response body = %q", resp.Body)
	}
}

func TestHTTPTransport_Credentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("session"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := dispatch.NewHTTPTransport(time.Second)
	ctx := context.Background()

	statuses := func(withCredentials bool) (int, int) {
		first, err := tr.Do(ctx, dispatch.Call{Method: http.MethodGet, URL: srv.URL, WithCredentials: withCredentials})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := tr.Do(ctx, dispatch.Call{Method: http.MethodGet, URL: srv.URL, WithCredentials: withCredentials})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return first.StatusCode, second.StatusCode
	}

	if a, b := statuses(false); a != http.StatusUnauthorized || b != http.StatusUnauthorized {
		t.Errorf("without credentials got %d, %d; want both 401", a, b)
	}
	if a, b := statuses(true); a != http.StatusUnauthorized || b != http.StatusOK {
		t.Errorf("with credentials got %d, %d; want 401 then 200", a, b)
	}
}

func TestHTTPTransport_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := dispatch.NewHTTPTransport(5 * time.Second)
	if _, err := tr.Do(ctx, dispatch.Call{URL: srv.URL}); err == nil {
		t.Fatal("expected error after context deadline")
	}
}
