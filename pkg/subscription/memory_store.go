package subscription

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory IdentityStore and SubscriptionStore.
// It enforces the same uniqueness rules as the database schema and is safe
// for concurrent use. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]User
	records map[uuid.UUID]Record
	bySub   map[string]uuid.UUID
	byPI    map[string]uuid.UUID
}

// NewMemoryStore creates a store seeded with the given users.
func NewMemoryStore(users ...User) *MemoryStore {
	s := &MemoryStore{
		users:   make(map[uuid.UUID]User, len(users)),
		records: make(map[uuid.UUID]Record),
		bySub:   make(map[string]uuid.UUID),
		byPI:    make(map[string]uuid.UUID),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// AddUser inserts or replaces a user.
func (s *MemoryStore) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// User returns a copy of the user with the given ID.
func (s *MemoryStore) User(id uuid.UUID) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// Records returns copies of all stored records.
func (s *MemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, cloneRecord(r))
	}
	slices.SortFunc(out, func(a, b Record) int { return a.StartDate.Compare(b.StartDate) })
	return out
}

func (s *MemoryStore) FindUserByProviderCustomerID(_ context.Context, customerID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if customerID != "" && u.ProviderCustomerID == customerID {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if email != "" && strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) UpdateUserProviderCustomerID(_ context.Context, userID uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.ProviderCustomerID = customerID
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) FindByProviderSubscriptionID(_ context.Context, providerSubscriptionID string) (*Record, error) {
	return s.findBy(s.bySub, providerSubscriptionID)
}

func (s *MemoryStore) FindByPaymentIntentID(_ context.Context, paymentIntentID string) (*Record, error) {
	return s.findBy(s.byPI, paymentIntentID)
}

func (s *MemoryStore) findBy(index map[string]uuid.UUID, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := index[key]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	rec := cloneRecord(s.records[id])
	return &rec, nil
}

func (s *MemoryStore) Insert(_ context.Context, record *Record) error {
	if !record.PlanType.Valid() {
		return ErrInvalidPlanType
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; ok {
		return ErrSubscriptionAlreadyExists
	}
	if id := record.ProviderSubscriptionID; id != nil {
		if _, ok := s.bySub[*id]; ok {
			return ErrSubscriptionAlreadyExists
		}
	}
	if id := record.PaymentIntentID; id != nil {
		if _, ok := s.byPI[*id]; ok {
			return ErrSubscriptionAlreadyExists
		}
	}

	rec := cloneRecord(*record)
	s.records[rec.ID] = rec
	if rec.ProviderSubscriptionID != nil {
		s.bySub[*rec.ProviderSubscriptionID] = rec.ID
	}
	if rec.PaymentIntentID != nil {
		s.byPI[*rec.PaymentIntentID] = rec.ID
	}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, update RecordUpdate) error {
	if !update.PlanType.Valid() {
		return ErrInvalidPlanType
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	update.Apply(&rec)
	s.records[id] = rec
	return nil
}

func cloneRecord(r Record) Record {
	if r.ProviderSubscriptionID != nil {
		v := *r.ProviderSubscriptionID
		r.ProviderSubscriptionID = &v
	}
	if r.PaymentIntentID != nil {
		v := *r.PaymentIntentID
		r.PaymentIntentID = &v
	}
	if r.CouponInfo != nil {
		r.CouponInfo = slices.Clone(r.CouponInfo)
	}
	return r
}
