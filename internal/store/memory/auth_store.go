package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// AuthorizationStore is an in-memory filing.AuthorizationStore. Promotion
// inserts into the paired TaskStore under that store's own locking, so the
// one-task-per-authorization guarantee holds.
type AuthorizationStore struct {
	mu      sync.Mutex
	idGen   filing.IDGenerator
	clock   filing.Clock
	tasks   *TaskStore
	pending map[string]*filing.PendingAuthorization
	seq     int64
	order   map[string]int64
}

// NewAuthorizationStore constructs an AuthorizationStore promoting into tasks.
func NewAuthorizationStore(tasks *TaskStore, idGen filing.IDGenerator, clock filing.Clock) *AuthorizationStore {
	return &AuthorizationStore{
		idGen:   idGen,
		clock:   clock,
		tasks:   tasks,
		pending: make(map[string]*filing.PendingAuthorization),
		order:   make(map[string]int64),
	}
}

// InsertPending parks a resource behind its authorization gate, returning
// the existing row's id on a (source, resource) conflict.
func (s *AuthorizationStore) InsertPending(
	_ context.Context,
	source filing.SourceID,
	protocol filing.ProtocolTag,
	payload filing.Payload,
	authType, reason string,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload.ResourceID != 0 {
		for _, p := range s.pending {
			if p.SourceID == source && p.ResourceID != nil && *p.ResourceID == payload.ResourceID {
				return p.ID, nil
			}
		}
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return "", err
	}
	row := &filing.PendingAuthorization{
		ID:                id,
		SourceID:          source,
		Protocol:          protocol,
		Payload:           payload,
		AuthorizationType: authType,
		Reason:            reason,
		Status:            filing.AuthorizationPending,
		CreatedAt:         s.clock.Now(),
	}
	if payload.ResourceID != 0 {
		rid := payload.ResourceID
		row.ResourceID = &rid
	}
	s.seq++
	s.pending[id] = row
	s.order[id] = s.seq
	return id, nil
}

// Authorize promotes a pending row into exactly one task; resolved rows are
// a no-op.
func (s *AuthorizationStore) Authorize(ctx context.Context, id, authorizedBy string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.pending[id]
	if !ok {
		return "", filing.ErrAuthorizationNotFound
	}
	if row.Status != filing.AuthorizationPending {
		return "", nil
	}
	taskID, err := s.tasks.Insert(ctx, row.SourceID, row.Protocol, row.Payload)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	row.Status = filing.AuthorizationMovedToQueue
	row.AuthorizedBy = authorizedBy
	row.AuthorizedAt = &now
	return taskID, nil
}

// Reject marks a pending row rejected.
func (s *AuthorizationStore) Reject(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.pending[id]
	if !ok {
		return filing.ErrAuthorizationNotFound
	}
	if row.Status != filing.AuthorizationPending {
		return nil
	}
	row.Status = filing.AuthorizationRejected
	row.Notes = reason
	return nil
}

// ListPending returns unresolved rows, oldest first.
func (s *AuthorizationStore) ListPending(_ context.Context) ([]filing.PendingAuthorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []filing.PendingAuthorization
	for _, row := range s.pending {
		if row.Status == filing.AuthorizationPending {
			pending = append(pending, *row)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return s.order[pending[i].ID] < s.order[pending[j].ID]
	})
	return pending, nil
}
