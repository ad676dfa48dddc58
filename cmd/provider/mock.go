package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/alex-user-go/fares/internal/fare"
	"github.com/alex-user-go/fares/internal/search/types"
)

var errProviderUnavailable = errors.New("provider unavailable")

// profile describes how a mock provider behaves.
type profile struct {
	companies []string
	// minLatency and maxLatency bound the simulated response time.
	minLatency, maxLatency time.Duration
	failureRate            float64
	malformedRate          float64
	// pendingPolls is the number of answers flagged pending before a query
	// completes.
	pendingPolls int
	// legLabels reports each leg as its own company (" - Ida", " - Volta").
	legLabels bool
	minFare   float64
	maxFare   float64
}

var profiles = map[string]profile{
	"airline": {
		companies:   []string{"Gol", "Azul", "Latam"},
		minLatency:  50 * time.Millisecond,
		maxLatency:  200 * time.Millisecond,
		failureRate: 0.1,
		minFare:     250,
		maxFare:     900,
	},
	"mileage": {
		companies:    []string{"Smiles", "TudoAzul"},
		minLatency:   100 * time.Millisecond,
		maxLatency:   300 * time.Millisecond,
		failureRate:  0.05,
		pendingPolls: 2,
		legLabels:    true,
		minFare:      180,
		maxFare:      700,
	},
	"flaky": {
		companies:     []string{"Gol", "Azul"},
		minLatency:    200 * time.Millisecond,
		maxLatency:    1500 * time.Millisecond,
		failureRate:   0.3,
		malformedRate: 0.1,
		minFare:       200,
		maxFare:       800,
	},
}

// Mock is a fare provider answering POSTed search queries with random quotes.
type Mock struct {
	profile profile
	logger  *slog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	polls map[string]int
}

// NewMock creates a provider with profile p.
func NewMock(p profile, logger *slog.Logger) *Mock {
	return &Mock{
		profile: p,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		polls:   make(map[string]int),
	}
}

func (m *Mock) random() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

// poll counts one answer for key and reports whether the quote is still
// pending.
func (m *Mock) poll(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls[key]++
	if m.polls[key] > m.profile.pendingPolls {
		delete(m.polls, key)
		return false
	}
	return true
}

func (m *Mock) latency() time.Duration {
	spread := m.profile.maxLatency - m.profile.minLatency
	return m.profile.minLatency + time.Duration(m.random()*float64(spread))
}

func (m *Mock) price() fare.Price {
	v := m.profile.minFare + m.random()*(m.profile.maxFare-m.profile.minFare)
	return fare.Price(float64(int(v*100)) / 100)
}

// vector returns random fares per stop count. Direct flights are sometimes
// unavailable and reported as 0.
func (m *Mock) vector() fare.PriceVector {
	v := fare.PriceVector{m.price(), m.price(), m.price()}
	if m.random() < 0.3 {
		v[0] = fare.Unset
	}
	return v
}

func (m *Mock) search(ctx context.Context, q types.Query) (types.Quote, error) {
	select {
	case <-time.After(m.latency()):
	case <-ctx.Done():
		return types.Quote{}, context.Cause(ctx)
	}

	if m.random() < m.profile.failureRate {
		return types.Quote{}, errProviderUnavailable
	}

	quote := types.Quote{Pending: m.poll(q.Key())}

	add := func(label string, v fare.PriceVector, total *fare.PriceVector) {
		quote.ByCompany = append(quote.ByCompany, fare.CompanyPrice{Company: label, Prices: v})
		for i := range total {
			total[i] = fare.MinPrice(total[i], v[i])
		}
	}

	for _, company := range m.profile.companies {
		switch {
		case !m.profile.legLabels:
			add(company, m.vector(), &quote.Departure)
			if !q.OneWay() {
				ret := m.vector()
				for i := range ret {
					quote.Return[i] = fare.MinPrice(quote.Return[i], ret[i])
				}
			}
		case q.OneWay():
			add(company+fare.DepartureLabel, m.vector(), &quote.Departure)
		default:
			add(company+fare.DepartureLabel, m.vector(), &quote.Departure)
			add(company+fare.ReturnLabel, m.vector(), &quote.Return)
		}
	}
	return quote, nil
}

// ServeHTTP handles HTTP requests for this provider.
func (m *Mock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var q types.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, "invalid search body", http.StatusBadRequest)
		return
	}
	if q.Origin == "" || q.Destination == "" || q.Departure == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	quote, err := m.search(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if m.random() < m.profile.malformedRate {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"departure":[`))
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(quote); err != nil {
		m.logger.Error("failed to encode response", "error", err)
	}
}
