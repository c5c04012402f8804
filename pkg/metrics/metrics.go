package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Metrics holds the counters of one registry client.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	tokenExchangesTotal *prometheus.CounterVec
	cacheLookupsTotal   *prometheus.CounterVec
}

// New creates the client metrics and registers them with reg. A nil reg
// leaves them unregistered, which is what tests and library users without
// a metrics endpoint want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_api_requests_total",
			Help: "The total number of requests sent to the registry",
		}, []string{"method", "code"}),
		tokenExchangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_api_token_exchanges_total",
			Help: "The total number of bearer token exchanges",
		}, []string{"result"}),
		cacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_api_cache_lookups_total",
			Help: "The total number of tag and manifest cache lookups",
		}, []string{"cache", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.tokenExchangesTotal, m.cacheLookupsTotal)
	}
	return m
}

// Request counts a completed request. A status of 0 means the transport failed.
func (m *Metrics) Request(method string, status int) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(method, code).Inc()
}

// TokenExchange counts a token exchange.
func (m *Metrics) TokenExchange(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.tokenExchangesTotal.WithLabelValues(result).Inc()
}

// CacheLookup counts a cache lookup for cache "tags" or "manifests".
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// Requests returns the request counter, for tests.
func (m *Metrics) Requests() *prometheus.CounterVec { return m.requestsTotal }

// TokenExchanges returns the token exchange counter, for tests.
func (m *Metrics) TokenExchanges() *prometheus.CounterVec { return m.tokenExchangesTotal }

// CacheLookups returns the cache lookup counter, for tests.
func (m *Metrics) CacheLookups() *prometheus.CounterVec { return m.cacheLookupsTotal }

// StartServer serves gatherer on addr under /metrics until ctx is done.
func StartServer(ctx context.Context, addr string, gatherer prometheus.Gatherer) chan error {
	errCh := make(chan error, 1)
	sm := http.NewServeMux()
	sm.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: sm, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		log.WithField("addr", addr).Debug("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}
