package cart

import (
	"time"

	"github.com/shopkit/selfscan/internal/pricing"
)

// State is the serializable snapshot of a session, used for the persisted
// cart file and for the rolling backup. It carries everything needed to
// rebuild the session, including the backup itself.
type State struct {
	ID             string         `json:"id"`
	UUID           string         `json:"uuid"`
	Shop           string         `json:"shop,omitempty"`
	Items          []*Item        `json:"items,omitempty"`
	ModCount       int            `json:"modCount"`
	AddCount       int            `json:"addCount"`
	OnlineTotal    *pricing.Money `json:"onlineTotalPrice,omitempty"`
	BackendDeposit pricing.Money  `json:"backendDepositPrice,omitempty"`
	Taxation       Taxation       `json:"taxation"`
	Backup         *State         `json:"backup,omitempty"`
	BackupAt       *time.Time     `json:"backupTimestamp,omitempty"`
	LastModified   time.Time      `json:"lastModified"`
}

// State returns a deep copy of the current session contents.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		ID:             s.id,
		UUID:           s.uuid,
		Shop:           s.opts.Shop,
		ModCount:       s.modCount,
		AddCount:       s.addCount,
		BackendDeposit: s.backendDeposit,
		Taxation:       s.taxation,
		LastModified:   s.lastModified,
	}
	if s.onlineTotal != nil {
		v := *s.onlineTotal
		st.OnlineTotal = &v
	}
	st.Items = cloneItems(s.items)
	if s.backup != nil {
		b := s.backup.clone()
		st.Backup = &b
		at := s.backupAt
		st.BackupAt = &at
	}
	return st
}

// NewSessionFromState rebuilds a session from a persisted snapshot. An
// empty or zero state yields a fresh session.
func NewSessionFromState(opts Options, st State) *Session {
	s := NewSession(opts)
	if st.ID == "" || st.UUID == "" {
		return s
	}
	s.id = st.ID
	s.uuid = st.UUID
	s.items = cloneItems(st.Items)
	s.modCount = st.ModCount
	s.addCount = st.AddCount
	if st.OnlineTotal != nil {
		v := *st.OnlineTotal
		s.onlineTotal = &v
	}
	s.backendDeposit = st.BackendDeposit
	s.taxation = st.Taxation
	if st.Backup != nil && st.BackupAt != nil {
		b := st.Backup.clone()
		s.backup = &b
		s.backupAt = *st.BackupAt
	}
	if !st.LastModified.IsZero() {
		s.lastModified = st.LastModified
	}
	return s
}

// clone performs an explicit structural deep copy. The backup mechanism
// depends on this, not on a serialization round trip.
func (st State) clone() State {
	dup := st
	dup.Items = cloneItems(st.Items)
	if st.OnlineTotal != nil {
		v := *st.OnlineTotal
		dup.OnlineTotal = &v
	}
	if st.Backup != nil {
		b := st.Backup.clone()
		dup.Backup = &b
	}
	if st.BackupAt != nil {
		at := *st.BackupAt
		dup.BackupAt = &at
	}
	return dup
}

func cloneItems(items []*Item) []*Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]*Item, len(items))
	for i, it := range items {
		out[i] = it.clone()
	}
	return out
}
