// Package engine wires the cache, content store, transaction engine, and
// root manager into a single in-process KVS, exposing one Go method per
// RPC topic the kvs module answers. There is no network transport here: a
// caller in the same process is the "rank" the methods operate as.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/nskv/kvsd/pkg/cache"
	"github.com/nskv/kvsd/pkg/config"
	"github.com/nskv/kvsd/pkg/contentstore"
	"github.com/nskv/kvsd/pkg/events"
	"github.com/nskv/kvsd/pkg/kvsroot"
	"github.com/nskv/kvsd/pkg/log"
	"github.com/nskv/kvsd/pkg/metrics"
	"github.com/nskv/kvsd/pkg/types"
)

// Engine is the top-level handle a host process builds once at startup and
// shares across every request it serves.
type Engine struct {
	cfg *config.Config

	cache     *cache.Cache
	store     contentstore.Store
	bus       *events.Broker
	roots     *kvsroot.Manager
	collector *metrics.Collector

	hbTicker *time.Ticker
	cpTicker *time.Ticker

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds an Engine from cfg: opens the content store, starts the event
// broker, bootstraps the primary namespace, and launches the background
// heartbeat and checkpoint loops. Callers must call Shutdown when done.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := contentstore.NewBoltStore(cfg.DataDir, cfg.HashAlgo)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}

	bus := events.NewBroker()
	bus.Start()

	c := cache.New()
	roots := kvsroot.New(c, store, bus, cfg.HashAlgo, uint32(cfg.Rank))
	roots.SetValrefThreshold(cfg.ValrefThreshold)

	var cpTicker *time.Ticker
	if cfg.CheckpointPeriod > 0 {
		cpTicker = time.NewTicker(cfg.CheckpointPeriod)
	}

	e := &Engine{
		cfg:      cfg,
		cache:    c,
		store:    store,
		bus:      bus,
		roots:    roots,
		hbTicker: time.NewTicker(cfg.HeartbeatInterval),
		cpTicker: cpTicker,
		stopCh:   make(chan struct{}),
	}

	if err := roots.Bootstrap(types.PrimaryNamespace, "root", 0); err != nil {
		bus.Stop()
		store.Close()
		return nil, fmt.Errorf("bootstrap primary namespace: %w", err)
	}
	metrics.RegisterComponent("contentstore", true, "")

	e.collector = metrics.NewCollector(roots)
	e.collector.Start()

	e.wg.Add(2)
	go e.heartbeatLoop()
	go e.checkpointLoop()

	log.WithComponent("engine").Info().
		Str("data_dir", cfg.DataDir).
		Int("rank", cfg.Rank).
		Msg("engine started")
	return e, nil
}

// Shutdown stops background loops, the metrics collector, and the event
// broker, then closes the content store: producers of work stop before
// what they depend on closes.
func (e *Engine) Shutdown() error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()

	if e.collector != nil {
		e.collector.Stop()
	}
	e.bus.Stop()

	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close content store: %w", err)
	}
	return nil
}

func (e *Engine) heartbeatLoop() {
	defer e.wg.Done()
	defer e.hbTicker.Stop()
	for {
		select {
		case <-e.hbTicker.C:
			e.roots.HeartbeatSweep(cacheAgeTicks)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) checkpointLoop() {
	defer e.wg.Done()
	if e.cpTicker == nil {
		// CheckpointPeriod <= 0 disables periodic checkpointing; the loop
		// still runs so Shutdown's wg.Wait has a consistent goroutine to
		// join, but it only ever waits on stopCh.
		<-e.stopCh
		return
	}
	defer e.cpTicker.Stop()
	for {
		select {
		case <-e.cpTicker.C:
			e.checkpointAll()
		case <-e.stopCh:
			return
		}
	}
}

// cacheAgeTicks bounds how many heartbeat ticks a cache entry may sit idle
// before HeartbeatSweep reclaims it.
const cacheAgeTicks = 120

func (e *Engine) checkpointAll() {
	logger := log.WithComponent("engine")
	for ns, err := range e.Checkpoint(e.roots.PrimaryNamespaces()...) {
		if err != nil {
			logger.Error().Err(err).Str("namespace", ns).Msg("checkpoint failed")
		}
	}
}

// Checkpoint persists the current root of each named namespace to the
// content store's checkpoint bucket and returns any per-namespace error
// keyed by namespace. Called by the background checkpoint loop with every
// primary namespace, and directly by operators for a one-shot checkpoint.
func (e *Engine) Checkpoint(namespaces ...string) map[string]error {
	errs := make(map[string]error)
	for _, ns := range namespaces {
		timer := metrics.NewTimer()
		if err := e.roots.Checkpoint(ns); err != nil {
			errs[ns] = err
			continue
		}
		timer.ObserveDuration(metrics.CheckpointDuration)
		metrics.CheckpointsTotal.Inc()
	}
	return errs
}

// Subscribe exposes the event broker to API-layer consumers that need to
// fan namespace events out to their own clients.
func (e *Engine) Subscribe() events.Subscriber { return e.bus.Subscribe() }

// Unsubscribe releases a subscription obtained from Subscribe.
func (e *Engine) Unsubscribe(sub events.Subscriber) { e.bus.Unsubscribe(sub) }

// Cred is re-exported for callers that only import pkg/engine.
type Cred = types.Cred
