package retry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopkit/selfscan/internal/checkout"
	"github.com/shopkit/selfscan/internal/events"
	"github.com/shopkit/selfscan/internal/obs"
)

// Store is the durable home of queued checkouts.
type Store interface {
	Load() []checkout.SavedCart
	Save(entries []checkout.SavedCart) error
}

// Retryer resubmits checkouts that failed purely on connectivity, using the
// fallback offline payment method and the original finalization time. It
// implements checkout.OfflineQueue.
type Retryer struct {
	Api         checkout.Api
	Store       Store
	Dispatcher  *events.Dispatcher
	Logger      zerolog.Logger
	Fallback    checkout.PaymentMethod
	MaxFailures int
	Timeout     time.Duration

	sweeping atomic.Bool
	// storeMu serializes every load-modify-save of the queue document so an
	// enqueue landing mid-sweep cannot be overwritten by the sweep's rewrite.
	storeMu sync.Mutex
}

func (r *Retryer) maxFailures() int {
	if r.MaxFailures <= 0 {
		return 3
	}
	return r.MaxFailures
}

// Enqueue persists the snapshot at the end of the queue.
func (r *Retryer) Enqueue(saved checkout.SavedCart) {
	r.storeMu.Lock()
	entries := append(r.Store.Load(), saved)
	err := r.Store.Save(entries)
	r.storeMu.Unlock()
	if err != nil {
		r.Logger.Error().Err(err).Str("session", saved.Cart.Session).Msg("retry_enqueue_failed")
		return
	}
	r.setDepth(len(entries))
	r.Logger.Info().Str("session", saved.Cart.Session).Msg("checkout_queued_offline")
}

// Depth returns the number of queued entries.
func (r *Retryer) Depth() int {
	return len(r.Store.Load())
}

// ProcessPendingCheckouts attempts every queued entry once. It is triggered
// on connectivity restoration or app foreground. A sweep that is still
// running suppresses new sweeps. Entries are removed on success; a failed
// entry has its failure count bumped and is dropped for good once it
// reaches the bound.
func (r *Retryer) ProcessPendingCheckouts(ctx context.Context) {
	if !r.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer r.sweeping.Store(false)

	r.storeMu.Lock()
	entries := r.Store.Load()
	r.storeMu.Unlock()
	if len(entries) == 0 {
		return
	}

	remaining := make([]checkout.SavedCart, 0, len(entries))
	for _, entry := range entries {
		if err := r.submit(ctx, entry); err != nil {
			entry.FailureCount++
			if entry.FailureCount >= r.maxFailures() {
				// Bounded loss: the entry is gone after this, so make the
				// drop observable instead of silent.
				r.Logger.Error().
					Str("session", entry.Cart.Session).
					Int("failures", entry.FailureCount).
					Msg("offline_checkout_dropped")
				if obs.RetryDroppedTotal != nil {
					obs.RetryDroppedTotal.Inc()
				}
				if r.Dispatcher != nil {
					r.Dispatcher.Emit(events.TopicCheckoutDropped, entry)
				}
				continue
			}
			if obs.RetrySweepTotal != nil {
				obs.RetrySweepTotal.WithLabelValues("failed").Inc()
			}
			remaining = append(remaining, entry)
			continue
		}
		if obs.RetrySweepTotal != nil {
			obs.RetrySweepTotal.WithLabelValues("ok").Inc()
		}
		if r.Dispatcher != nil {
			r.Dispatcher.Emit(events.TopicCheckoutRecovered, entry)
		}
		r.Logger.Info().Str("session", entry.Cart.Session).Msg("offline_checkout_recovered")
	}

	// Entries enqueued while the sweep was running are not in the snapshot;
	// they must survive the rewrite untouched for the next sweep.
	r.storeMu.Lock()
	swept := make(map[string]bool, len(entries))
	for _, entry := range entries {
		swept[entry.Cart.Session] = true
	}
	for _, entry := range r.Store.Load() {
		if !swept[entry.Cart.Session] {
			remaining = append(remaining, entry)
		}
	}
	err := r.Store.Save(remaining)
	r.storeMu.Unlock()
	if err != nil {
		r.Logger.Error().Err(err).Msg("retry_queue_save_failed")
	}
	r.setDepth(len(remaining))
}

// submit recreates the checkout info and finalizes a payment process with
// the fallback method. The original finalization time is submitted so the
// backend records the true purchase time, not the retry time.
func (r *Retryer) submit(ctx context.Context, entry checkout.SavedCart) error {
	info, err := r.Api.CreateCheckoutInfo(ctx, entry.Cart, r.Timeout)
	if err != nil {
		return err
	}
	finalizedAt := entry.FinalizedAt
	_, err = r.Api.CreatePaymentProcess(ctx, checkout.ProcessRequest{
		IdempotencyID:    entry.Cart.Session,
		SignedInfo:       info,
		Method:           r.Fallback,
		ProcessedOffline: true,
		FinalizedAt:      &finalizedAt,
	})
	return err
}

func (r *Retryer) setDepth(depth int) {
	if obs.RetryQueueDepth != nil {
		obs.RetryQueueDepth.Set(float64(depth))
	}
}
