// Package account holds the client's cross-room user record.
package account

import (
	"maps"
	"sync"

	"github.com/kit-dsn/pfennigfuchs/internal/models"
)

type Store struct {
	mu    sync.RWMutex
	data  models.GlobalAccountData
	known bool
}

func NewStore() *Store {
	return &Store{}
}

// Apply replaces the record wholesale. Fields missing from d are dropped.
func (s *Store) Apply(d models.GlobalAccountData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = clone(d)
	s.known = true
}

// Known reports whether any account data event was applied yet.
func (s *Store) Known() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.known
}

func (s *Store) UserInfo() (models.UserInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.UserInfo == nil {
		return models.UserInfo{}, false
	}
	return *s.data.UserInfo, true
}

func (s *Store) PaymentInfo() map[string]models.PaymentMethod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data.PaymentInfo)
}

// ForRequest returns the record in the shape written to the homeserver:
// user_info is always present and payment_info is never null.
func (s *Store) ForRequest() models.GlobalAccountData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := models.GlobalAccountData{
		UserInfo:    &models.UserInfo{},
		PaymentInfo: make(map[string]models.PaymentMethod, len(s.data.PaymentInfo)),
	}
	if s.data.UserInfo != nil {
		*out.UserInfo = *s.data.UserInfo
	}
	maps.Copy(out.PaymentInfo, s.data.PaymentInfo)
	return out
}

// Clear forgets the record, used on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = models.GlobalAccountData{}
	s.known = false
}

// Equal reports whether two records carry the same user info and payment methods.
// A nil user info equals an all-empty one, and a nil map equals an empty one.
func Equal(a, b models.GlobalAccountData) bool {
	var ua, ub models.UserInfo
	if a.UserInfo != nil {
		ua = *a.UserInfo
	}
	if b.UserInfo != nil {
		ub = *b.UserInfo
	}
	return ua == ub && maps.Equal(a.PaymentInfo, b.PaymentInfo)
}

func clone(d models.GlobalAccountData) models.GlobalAccountData {
	out := models.GlobalAccountData{PaymentInfo: maps.Clone(d.PaymentInfo)}
	if d.UserInfo != nil {
		u := *d.UserInfo
		out.UserInfo = &u
	}
	return out
}
