package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopkit/selfscan/internal/cart"
	"github.com/shopkit/selfscan/internal/events"
)

// CartStore persists one cart document per (environment, shop) pair,
// rewritten on a debounce timer as the session changes.
type CartStore struct {
	dir         string
	environment string
	shop        string
	debouncer   *Debouncer
	logger      zerolog.Logger
}

// NewCartStore constructs a store rooted at dir.
func NewCartStore(dir, environment, shop string, debounce time.Duration, logger zerolog.Logger) *CartStore {
	return &CartStore{
		dir:         dir,
		environment: environment,
		shop:        shop,
		debouncer:   NewDebouncer(debounce),
		logger:      logger,
	}
}

func (s *CartStore) path() string {
	return filepath.Join(s.dir, sanitize(s.environment), fmt.Sprintf("cart-%s.json", sanitize(s.shop)))
}

// Load reads the persisted session state. A missing or corrupt file yields
// an empty state and ok=false.
func (s *CartStore) Load() (cart.State, bool) {
	var st cart.State
	ok, err := readJSON(s.path(), &st)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cart_load_failed")
		return cart.State{}, false
	}
	if !ok {
		return cart.State{}, false
	}
	return st, true
}

// Save schedules a debounced write of the given state.
func (s *CartStore) Save(st cart.State) {
	s.debouncer.Trigger(func() { s.write(st) })
}

// Flush forces any pending write to disk, used before checkout.
func (s *CartStore) Flush() {
	s.debouncer.Flush()
}

// Attach subscribes the store to cart-change events so every mutation is
// persisted without the session knowing about storage. It returns an
// unsubscribe function.
func (s *CartStore) Attach(d *events.Dispatcher) func() {
	unsubChanged := d.Subscribe(events.TopicCartChanged, func(ev events.Event) {
		if st, ok := ev.Payload.(cart.State); ok {
			s.Save(st)
		}
	})
	unsubInvalidated := d.Subscribe(events.TopicCartInvalidated, func(ev events.Event) {
		if st, ok := ev.Payload.(cart.State); ok {
			s.write(st)
		}
	})
	return func() {
		unsubChanged()
		unsubInvalidated()
	}
}

func (s *CartStore) write(st cart.State) {
	if err := writeJSON(s.path(), st); err != nil {
		s.logger.Error().Err(err).Msg("cart_save_failed")
	}
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "default"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(name)
}
