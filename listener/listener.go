// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package listener fans both contract event streams into registered
// callback sets and keeps delivery statistics.
package listener

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/luxfi/coordinator/chain"
	"github.com/luxfi/coordinator/proxy"
	"github.com/luxfi/coordinator/vault"
)

const (
	chainVault = "vault"
	chainProxy = "proxy"

	defaultHighWater = 1024
)

// droppable marks events that may be shed under load. State-mutating
// events are never dropped.
var droppable = map[string]bool{
	chainVault + "/" + vault.EvChainAdded:             true,
	chainVault + "/" + vault.EvXcmMessageSent:         true,
	chainProxy + "/" + proxy.EvAssetsReceived:         true,
	chainProxy + "/" + proxy.EvPendingPositionCreated: true,
	chainProxy + "/" + proxy.EvPositionLiquidated:     true,
	chainProxy + "/" + proxy.EvAssetsReturned:         true,
}

// CallbackSet bundles the two chains' handler sets. Either side may be
// nil.
type CallbackSet struct {
	Vault *vault.Callbacks
	Proxy *proxy.Callbacks
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Events        map[string]uint64 // keyed "chain/EventName"
	Dropped       uint64
	LastEventTime time.Time
	IsListening   bool
}

// Options tunes the listener.
type Options struct {
	AutoStart bool
	HighWater int // queue depth above which droppable events are shed
	Registry  prometheus.Registerer
}

type queueItem struct {
	chain string
	lg    types.Log
}

// stream is one chain's delivery pipeline: the subscription feeding the
// queue, and the cursor acknowledged only after dispatch.
type stream struct {
	name   string
	queue  chan queueItem
	sub    *chain.Subscription
	cursor *chain.CursorStore

	// ready gates the handler until sub is assigned.
	ready chan struct{}
}

// Listener owns the two chain subscriptions, the delivery queues, and
// the registered callback set.
type Listener struct {
	vaultClient *vault.Client
	proxyClient *proxy.Client
	db          database.Database
	log         log.Logger
	highWater   int

	eventsTotal  *prometheus.CounterVec
	droppedTotal *prometheus.CounterVec

	mu        sync.Mutex
	cbs       CallbackSet
	listening bool
	cancel    context.CancelFunc
	streams   []*stream
	wg        sync.WaitGroup

	stats   Stats
	statsMu sync.Mutex
}

// New builds a listener over the given clients. db persists the per
// chain block cursors; nil disables backfill. Start is the caller's
// responsibility unless opts.AutoStart is set.
func New(vaultClient *vault.Client, proxyClient *proxy.Client, db database.Database, opts Options, logger log.Logger) *Listener {
	if opts.HighWater <= 0 {
		opts.HighWater = defaultHighWater
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	l := &Listener{
		vaultClient: vaultClient,
		proxyClient: proxyClient,
		db:          db,
		log:         logger,
		highWater:   opts.HighWater,
		eventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "listener",
			Name:      "events_total",
			Help:      "Contract events delivered, by chain and event kind.",
		}, []string{"chain", "event"}),
		droppedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "coordinator",
			Subsystem: "listener",
			Name:      "dropped_total",
			Help:      "Informational events shed under queue pressure.",
		}, []string{"chain"}),
	}
	l.stats.Events = make(map[string]uint64)
	if opts.AutoStart {
		l.Start(context.Background())
	}
	return l
}

// Register installs a callback set, replacing any prior registration.
// When already listening, subscriptions are restarted so the new set
// takes effect from a clean stream.
func (l *Listener) Register(ctx context.Context, cbs CallbackSet) {
	l.mu.Lock()
	l.cbs = cbs
	restart := l.listening
	l.mu.Unlock()

	if restart {
		l.Stop()
		l.Start(ctx)
	}
}

// Start opens subscriptions on every configured chain. Safe to call
// when already listening.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listening {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.streams = nil

	if l.vaultClient != nil {
		l.startChainLocked(runCtx, chainVault, l.vaultClient.Client)
	}
	if l.proxyClient != nil {
		l.startChainLocked(runCtx, chainProxy, l.proxyClient.Client)
	}
	l.listening = true

	l.statsMu.Lock()
	l.stats.IsListening = true
	l.statsMu.Unlock()
	l.log.Info("event listener started", "chains", len(l.streams))
}

func (l *Listener) startChainLocked(ctx context.Context, name string, client *chain.Client) {
	st := &stream{
		name:  name,
		queue: make(chan queueItem, l.highWater*2),
		ready: make(chan struct{}),
	}
	if l.db != nil {
		st.cursor = chain.NewCursorStore(l.db, name)
	}
	st.sub = chain.Subscribe(ctx, client, st.cursor, func(lg types.Log) {
		// The handler can fire before Subscribe returns; wait for
		// st.sub so enqueue can pause the subscription.
		<-st.ready
		l.enqueue(ctx, st, lg)
	}, l.log)
	close(st.ready)
	l.streams = append(l.streams, st)

	l.wg.Add(1)
	go l.drain(ctx, st)
}

// Stop detaches all subscriptions and waits for the queues to stop.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.listening {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	streams := l.streams
	l.listening = false
	l.mu.Unlock()

	cancel()
	for _, st := range streams {
		st.sub.Unsubscribe()
	}
	l.wg.Wait()

	l.statsMu.Lock()
	l.stats.IsListening = false
	l.statsMu.Unlock()
	l.log.Info("event listener stopped")
}

// enqueue applies the shedding policy. Droppable events are discarded
// above the high-water mark; a state-mutating event pauses polling on
// the subscription instead, and drain resumes it once the queue is
// back below half the mark.
func (l *Listener) enqueue(ctx context.Context, st *stream, lg types.Log) {
	name := l.eventName(st.name, lg)
	if name == "" {
		return
	}
	if len(st.queue) >= l.highWater {
		if droppable[st.name+"/"+name] {
			l.droppedTotal.WithLabelValues(st.name).Inc()
			l.statsMu.Lock()
			l.stats.Dropped++
			l.statsMu.Unlock()
			l.log.Debug("shedding informational event",
				"chain", st.name, "event", name, "queued", len(st.queue))
			return
		}
		st.sub.Pause()
		l.log.Warn("queue above high-water mark, pausing polling",
			"chain", st.name, "queued", len(st.queue))
	}
	select {
	case st.queue <- queueItem{chain: st.name, lg: lg}:
	case <-ctx.Done():
	}
}

// drain dispatches queued events and acknowledges the cursor only after
// the handler has run, so a restart replays anything still in flight.
func (l *Listener) drain(ctx context.Context, st *stream) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-st.queue:
			l.dispatch(item)
			if st.cursor != nil {
				if err := st.cursor.Store(item.lg.BlockNumber); err != nil {
					l.log.Error("cursor write failed",
						"chain", st.name, "block", item.lg.BlockNumber, "err", err)
				}
			}
			if len(st.queue) <= l.highWater/2 {
				st.sub.Resume()
			}
		}
	}
}

func (l *Listener) eventName(chainName string, lg types.Log) string {
	if chainName == chainVault {
		return vault.EventName(lg)
	}
	return proxy.EventName(lg)
}

func (l *Listener) dispatch(item queueItem) {
	l.mu.Lock()
	cbs := l.cbs
	l.mu.Unlock()

	var (
		name string
		err  error
	)
	switch {
	case item.chain == chainVault && cbs.Vault != nil:
		name, err = cbs.Vault.Dispatch(item.lg)
	case item.chain == chainProxy && cbs.Proxy != nil:
		name, err = cbs.Proxy.Dispatch(item.lg)
	default:
		name = l.eventName(item.chain, item.lg)
	}
	if err != nil {
		l.log.Error("event dispatch failed",
			"chain", item.chain, "event", name, "block", item.lg.BlockNumber, "err", err)
		return
	}
	if name == "" {
		return
	}

	l.eventsTotal.WithLabelValues(item.chain, name).Inc()
	l.statsMu.Lock()
	l.stats.Events[item.chain+"/"+name]++
	l.stats.LastEventTime = time.Now()
	l.statsMu.Unlock()
}

// GetStats returns a deep copy of the counters.
func (l *Listener) GetStats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	snapshot := Stats{
		Events:        make(map[string]uint64, len(l.stats.Events)),
		Dropped:       l.stats.Dropped,
		LastEventTime: l.stats.LastEventTime,
		IsListening:   l.stats.IsListening,
	}
	for k, v := range l.stats.Events {
		snapshot.Events[k] = v
	}
	return snapshot
}

// ResetStats zeroes the counters but keeps the listening flag.
func (l *Listener) ResetStats() {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.stats.Events = make(map[string]uint64)
	l.stats.Dropped = 0
	l.stats.LastEventTime = time.Time{}
}
