// Package metrics exposes Prometheus counters for authentication events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login and refresh result labels.
const (
	ResultOK          = "ok"
	ResultBadPassword = "bad_password"
	ResultLockedOut   = "locked_out"
	ResultUnknown     = "unknown_user"
	ResultInactive    = "inactive"
	ResultNotFound    = "not_found"
	ResultExpired     = "expired"
	ResultReplay      = "replay"
	ResultError       = "error"
)

// Metrics groups the service counters. A nil *Metrics records nothing.
type Metrics struct {
	logins        *prometheus.CounterVec
	lockouts      prometheus.Counter
	refreshes     *prometheus.CounterVec
	replays       prometheus.Counter
	tokensRevoked prometheus.Counter
}

// New creates the counters and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basejwt_login_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basejwt_lockouts_total",
			Help: "Accounts locked after reaching the failure threshold",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "basejwt_refresh_total",
			Help: "Refresh token rotations by result",
		}, []string{"result"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basejwt_refresh_replays_total",
			Help: "Presentations of already revoked refresh tokens",
		}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basejwt_tokens_revoked_total",
			Help: "Refresh tokens revoked by logout, reset or replay response",
		}),
	}
	for _, c := range []prometheus.Collector{m.logins, m.lockouts, m.refreshes, m.replays, m.tokensRevoked} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
	if result == ResultReplay {
		m.replays.Inc()
	}
}

func (m *Metrics) TokensRevoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensRevoked.Add(float64(n))
}
