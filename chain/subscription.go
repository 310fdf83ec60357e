// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/database"
	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"
)

// backfillChunk bounds one FilterLogs range so replaying a long outage
// does not hit provider response limits.
const backfillChunk = 2000

// CursorStore persists the last fully processed block per chain so a
// resubscribe can backfill instead of resuming from head. The
// subscription only reads the cursor; acknowledging a block via Store
// is the consumer's job, after the log has actually been handled.
type CursorStore struct {
	db  database.Database
	key []byte
}

// NewCursorStore creates a cursor keyed by the chain label.
func NewCursorStore(db database.Database, chain string) *CursorStore {
	return &CursorStore{db: db, key: []byte("cursor/" + chain)}
}

// Load returns the stored cursor; ok is false when none was written yet.
func (s *CursorStore) Load() (block uint64, ok bool, err error) {
	raw, err := s.db.Get(s.key)
	if errors.Is(err, database.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt cursor for %s", s.key)
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// Store records block as fully processed.
func (s *CursorStore) Store(block uint64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], block)
	return s.db.Put(s.key, raw[:])
}

// LogHandler consumes one contract log. Handlers run on the subscription
// goroutine; long work must be queued elsewhere.
type LogHandler func(types.Log)

// Subscription streams the bound contract's logs to a handler. Delivery
// is at-least-once: on reconnect the range between the persisted cursor
// and the current head is replayed via FilterLogs before going live.
// The cursor is never advanced here, so anything enqueued downstream
// but not yet acknowledged is replayed after a restart.
type Subscription struct {
	client  *Client
	cursor  *CursorStore
	handler LogHandler
	log     log.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// Subscribe starts streaming logs for the client's contract. A nil cursor
// disables backfill (resume from head).
func Subscribe(ctx context.Context, client *Client, cursor *CursorStore, handler LogHandler, logger log.Logger) *Subscription {
	runCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		client:  client,
		cursor:  cursor,
		handler: handler,
		log:     logger,
		cancel:  cancel,
		done:    make(chan struct{}),
		resume:  make(chan struct{}),
	}
	go s.run(runCtx)
	return s
}

// Pause suspends log delivery; the upstream channel keeps filling until
// the provider applies its own backpressure.
func (s *Subscription) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume lifts a pause.
func (s *Subscription) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resume)
		s.resume = make(chan struct{})
	}
}

// Unsubscribe stops the stream and waits for the loop to exit.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	for {
		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("subscription dropped, reconnecting",
				"chain", s.client.Name(), "err", err)
			if err := s.client.Reconnect(ctx); err != nil {
				return
			}
		}
	}
}

func (s *Subscription) runOnce(ctx context.Context) error {
	backend, err := s.client.getBackend(ctx)
	if err != nil {
		return err
	}

	if err := s.backfill(ctx, backend); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{s.client.Contract()},
	}
	ch := make(chan types.Log, 256)
	sub, err := backend.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case lg := <-ch:
			s.waitIfPaused(ctx)
			s.deliver(lg)
		}
	}
}

// backfill replays logs from the stored cursor up to the current head in
// bounded chunks. No cursor means no replay.
func (s *Subscription) backfill(ctx context.Context, backend Backend) error {
	if s.cursor == nil {
		return nil
	}
	from, ok, err := s.cursor.Load()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	head, err := backend.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if from >= head {
		return nil
	}

	contract := s.client.Contract()
	for start := from + 1; start <= head; start += backfillChunk {
		end := start + backfillChunk - 1
		if end > head {
			end = head
		}
		logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{contract},
		})
		if err != nil {
			return err
		}
		if len(logs) > 0 {
			s.log.Info("replaying missed logs",
				"chain", s.client.Name(), "from", start, "to", end, "count", len(logs))
		}
		for _, lg := range logs {
			s.waitIfPaused(ctx)
			s.deliver(lg)
		}
	}
	return nil
}

func (s *Subscription) deliver(lg types.Log) {
	if lg.Removed {
		// Reorged-out log; the canonical replacement arrives separately.
		s.log.Debug("dropping removed log",
			"chain", s.client.Name(), "block", lg.BlockNumber, "tx", lg.TxHash)
		return
	}
	s.handler(lg)
}

func (s *Subscription) waitIfPaused(ctx context.Context) {
	for {
		s.mu.Lock()
		paused := s.paused
		resume := s.resume
		s.mu.Unlock()
		if !paused {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-resume:
		case <-time.After(time.Second):
		}
	}
}
