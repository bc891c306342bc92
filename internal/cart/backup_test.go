package cart_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopkit/selfscan/internal/cart"
)

func TestBackupRestoreWithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	s := newTestSession(t, cart.Options{
		BackupMaxAge: 5 * time.Minute,
		Now:          func() time.Time { return now },
	})
	s.Add(article("beer", 199))
	s.Add(article("wine", 599))

	s.Backup()
	s.Invalidate()
	require.Equal(t, 0, s.Len())

	now = now.Add(4 * time.Minute)
	require.True(t, s.IsRestorable())
	require.True(t, s.Restore())
	require.Equal(t, 2, s.Len())

	// the backup is consumed
	require.False(t, s.IsRestorable())
	require.False(t, s.Restore())
}

func TestBackupExpiresAfterWindow(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	s := newTestSession(t, cart.Options{
		BackupMaxAge: 5 * time.Minute,
		Now:          func() time.Time { return now },
	})
	s.Add(article("beer", 199))
	s.Backup()
	s.Invalidate()

	now = now.Add(6 * time.Minute)
	require.False(t, s.IsRestorable())
	require.False(t, s.Restore())
	require.Equal(t, 0, s.Len())
}

func TestEmptyCartIsNotBackedUp(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	s.Backup()
	require.False(t, s.IsRestorable())
}

func TestRestoreRotatesUUID(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	s.Add(article("beer", 199))
	s.Backup()
	s.Invalidate()

	before := s.UUID()
	require.True(t, s.Restore())
	require.NotEqual(t, before, s.UUID())
}

func TestStateRoundTripThroughRestore(t *testing.T) {
	s := newTestSession(t, cart.Options{Shop: "shop-9"})
	s.Add(article("beer", 199))
	s.SetTaxation(cart.TaxationInHouse)
	s.Backup()
	s.Invalidate()
	require.Equal(t, cart.TaxationUndecided, s.Taxation())

	require.True(t, s.Restore())
	require.Equal(t, cart.TaxationInHouse, s.Taxation())
}
