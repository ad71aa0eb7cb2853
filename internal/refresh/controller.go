// Package refresh owns the background half of the header-augmenting filter:
// a singleton controller that periodically fetches a header payload from the
// header-providing service and writes it into the shared cache slot read by
// every request handler.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/headergate/config"
	"github.com/example/headergate/internal/logging"
	"github.com/example/headergate/internal/metrics"
	"github.com/example/headergate/internal/shareddata"
)

// CacheKey is the well-known shared data key holding the raw header payload.
const CacheKey = "headers"

// InitialisationTick is the short poll interval used before the first
// successful fetch and after any failure, enabling fast recovery. The
// configured cache expiry takes over once a refresh cycle has run.
const InitialisationTick = 3 * time.Second

var (
	// ErrConfigMissing rejects activation when no filter stanza was supplied.
	ErrConfigMissing = errors.New("refresh: filter configuration missing")

	// ErrConfigMalformed rejects activation when the filter stanza does not
	// parse.
	ErrConfigMalformed = errors.New("refresh: filter configuration malformed")
)

// Controller drives the poll/refresh state machine. It must be configured
// via OnConfigure before Run is started; after that the only shared mutable
// state it touches is the cache slot.
type Controller struct {
	store      shareddata.Store
	dispatcher Dispatcher

	mu       sync.Mutex
	cfg      config.FilterConfig
	interval time.Duration
	timer    *time.Timer

	configured  atomic.Bool
	refreshes   atomic.Int64
	failures    atomic.Int64
	lastRefresh atomic.Int64 // unix nano of last successful cache write
}

// Status is the admin API snapshot of the refresh state.
type Status struct {
	Configured     bool      `json:"configured"`
	CachePopulated bool      `json:"cache_populated"`
	CacheVersion   uint64    `json:"cache_version"`
	TickInterval   string    `json:"tick_interval"`
	Refreshes      int64     `json:"refreshes"`
	Failures       int64     `json:"failures"`
	LastRefresh    time.Time `json:"last_refresh,omitempty"`
}

// NewController creates an unconfigured controller.
func NewController(store shareddata.Store, dispatcher Dispatcher) *Controller {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return &Controller{
		store:      store,
		dispatcher: dispatcher,
		timer:      t,
	}
}

// OnConfigure activates the controller from a raw filter stanza. An empty
// stanza or a parse failure rejects activation outright; on success the
// cache slot is cleared and the timer is armed at the initialisation tick.
func (c *Controller) OnConfigure(raw []byte) error {
	if len(raw) == 0 {
		logging.Warn("configuration missing")
		return ErrConfigMissing
	}

	cfg, err := config.ParseFilter(raw)
	if err != nil {
		logging.Warn("failed to parse configuration", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}

	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.configured.Store(true)

	logging.Debug("configuring header filter",
		zap.String("cluster", cfg.HeaderProvidingServiceCluster),
		zap.String("path", cfg.HeaderProvidingServicePath),
		zap.String("authority", cfg.HeaderProvidingServiceAuthority),
		zap.Duration("expiry", cfg.HeaderCacheExpiry),
	)

	c.store.Delete(CacheKey)
	c.setTickPeriod(InitialisationTick)
	return nil
}

// OnTick runs one refresh cycle: rearm the timer at the configured expiry
// (optimistically, assuming this cycle succeeds) and dispatch the async call
// to the header-providing service. A synchronous dispatch failure falls back
// to the initialisation tick for a quick retry.
func (c *Controller) OnTick() {
	if !c.configured.Load() {
		return
	}

	if _, _, ok := c.store.Get(CacheKey); !ok {
		logging.Debug("initialising cached headers")
	} else {
		logging.Debug("refreshing cached headers")
	}

	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	// We could be in the initialisation tick here, so move to the configured
	// expiry before doing anything. Failures reset it back.
	c.setTickPeriod(cfg.HeaderCacheExpiry)

	err := c.dispatcher.Dispatch(
		cfg.HeaderProvidingServiceCluster,
		cfg.HeaderProvidingServicePath,
		cfg.HeaderProvidingServiceAuthority,
		c.OnResponse,
	)
	if err != nil {
		c.setTickPeriod(InitialisationTick)
		c.failures.Add(1)
		metrics.RefreshTotal.WithLabelValues("dispatch_error").Inc()
		logging.Warn("failed calling header providing service", zap.Error(err))
	}
}

// OnResponse completes a previously dispatched call. An empty body leaves
// any stale cache authoritative; a store failure falls back to the
// initialisation tick. The payload is stored as-is: structural validation is
// deferred to the request-time consumer.
func (c *Controller) OnResponse(body []byte) {
	if len(body) == 0 {
		c.failures.Add(1)
		metrics.RefreshTotal.WithLabelValues("empty_body").Inc()
		logging.Warn("header providing service returned empty body")
		return
	}

	if err := c.store.Set(CacheKey, body, nil); err != nil {
		c.setTickPeriod(InitialisationTick)
		c.failures.Add(1)
		metrics.RefreshTotal.WithLabelValues("store_error").Inc()
		logging.Warn("failed storing header cache", zap.Error(err))
		return
	}

	c.refreshes.Add(1)
	c.lastRefresh.Store(time.Now().UnixNano())
	metrics.RefreshTotal.WithLabelValues("success").Inc()
	logging.Debug("refreshed header cache", zap.ByteString("headers", body))
}

// Run drives the timer until ctx is cancelled. OnConfigure must have
// succeeded first.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.timer.Stop()
			c.mu.Unlock()
			return ctx.Err()
		case <-c.timer.C:
			c.OnTick()
		}
	}
}

// Interval returns the current tick period.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

func (c *Controller) setTickPeriod(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interval != d {
		logging.Debug("tick period changed", zap.Duration("interval", d))
	}
	c.interval = d
	c.timer.Reset(d)
}

// Status returns the admin API snapshot.
func (c *Controller) Status() Status {
	_, version, populated := c.store.Get(CacheKey)
	s := Status{
		Configured:     c.configured.Load(),
		CachePopulated: populated,
		CacheVersion:   version,
		TickInterval:   c.Interval().String(),
		Refreshes:      c.refreshes.Load(),
		Failures:       c.failures.Load(),
	}
	if ns := c.lastRefresh.Load(); ns != 0 {
		s.LastRefresh = time.Unix(0, ns)
	}
	return s
}
