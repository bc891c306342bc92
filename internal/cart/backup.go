package cart

import "time"

// Backup stores a deep copy of the current contents. Empty carts are not
// backed up. An existing backup is replaced.
func (s *Session) Backup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return
	}
	st := s.stateLocked()
	st.Backup = nil
	st.BackupAt = nil
	s.backup = &st
	s.backupAt = s.opts.Now()
}

// IsRestorable reports whether a backup exists and is still inside the
// restore window.
func (s *Session) IsRestorable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRestorableLocked()
}

func (s *Session) isRestorableLocked() bool {
	if s.backup == nil {
		return false
	}
	return s.opts.Now().Before(s.backupAt.Add(s.opts.BackupMaxAge))
}

// Restore replaces the session contents with the backup. An expired or
// missing backup makes this a silent no-op; it reports whether a restore
// happened.
func (s *Session) Restore() bool {
	s.mu.Lock()
	if !s.isRestorableLocked() {
		s.mu.Unlock()
		return false
	}
	st := s.backup.clone()
	s.id = st.ID
	s.items = cloneItems(st.Items)
	s.modCount = st.ModCount
	s.addCount = st.AddCount
	s.onlineTotal = nil
	if st.OnlineTotal != nil {
		v := *st.OnlineTotal
		s.onlineTotal = &v
	}
	s.backendDeposit = st.BackendDeposit
	s.taxation = st.Taxation
	s.backup = nil
	s.backupAt = time.Time{}
	s.touchLocked("restore")
	state := s.stateLocked()
	s.mu.Unlock()
	s.emitChanged(state)
	return true
}

// ClearBackup drops the stored backup.
func (s *Session) ClearBackup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup = nil
}
