package storage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/selfscan/internal/cart"
	"github.com/shopkit/selfscan/internal/events"
	"github.com/shopkit/selfscan/internal/pricing"
	"github.com/shopkit/selfscan/internal/storage"
)

func TestCartStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewCartStore(dir, "test", "shop-1", time.Minute, zerolog.Nop())

	_, ok := store.Load()
	require.False(t, ok, "missing file must read as empty")

	session := cart.NewSession(cart.Options{Shop: "shop-1"})
	session.Add(cart.NewProductItem(&cart.Product{
		SKU:       "beer",
		Name:      "beer",
		Type:      cart.TypeArticle,
		ListPrice: 199,
	}, nil, 2))

	store.Save(session.State())
	store.Flush()

	loaded, ok := store.Load()
	require.True(t, ok)
	require.Equal(t, session.ID(), loaded.ID)
	require.Equal(t, session.UUID(), loaded.UUID)
	require.Len(t, loaded.Items, 1)

	restored := cart.NewSessionFromState(cart.Options{Shop: "shop-1"}, loaded)
	require.Equal(t, pricing.Money(398), restored.TotalPrice())
}

func TestCartStoreCorruptFileFallsBackToEmpty(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewCartStore(dir, "test", "shop-1", time.Minute, zerolog.Nop())

	path := filepath.Join(dir, "test", "cart-shop-1.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, ok := store.Load()
	require.False(t, ok)
}

func TestCartStorePersistsThroughEvents(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewCartStore(dir, "test", "shop-1", time.Minute, zerolog.Nop())
	dispatcher := events.NewDispatcher(zerolog.Nop())
	detach := store.Attach(dispatcher)
	defer detach()

	session := cart.NewSession(cart.Options{Shop: "shop-1", Dispatcher: dispatcher})
	session.Add(cart.NewProductItem(&cart.Product{
		SKU: "beer", Name: "beer", Type: cart.TypeArticle, ListPrice: 199,
	}, nil, 1))
	store.Flush()

	loaded, ok := store.Load()
	require.True(t, ok)
	require.Len(t, loaded.Items, 1)

	// invalidation writes immediately, no flush needed
	session.Invalidate()
	loaded, ok = store.Load()
	require.True(t, ok)
	require.Len(t, loaded.Items, 0)
}

func TestCartStoreDebounceCoalesces(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewCartStore(dir, "test", "shop-1", time.Hour, zerolog.Nop())

	session := cart.NewSession(cart.Options{Shop: "shop-1"})
	for i := 0; i < 5; i++ {
		session.Add(cart.NewProductItem(&cart.Product{
			SKU: "beer", Name: "beer", Type: cart.TypeArticle, ListPrice: 199,
		}, nil, 1))
		store.Save(session.State())
	}
	// nothing written until the quiet period or an explicit flush
	_, ok := store.Load()
	require.False(t, ok)

	store.Flush()
	loaded, ok := store.Load()
	require.True(t, ok)
	require.Len(t, loaded.Items, 1)
	require.Equal(t, 5, loaded.Items[0].Quantity)
}
