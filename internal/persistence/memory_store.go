package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/duplexhq/duplex/pkg/api"
)

// InMemoryStore is a goroutine-safe RelationalStore backed by maps. It is
// non-durable and exists for tests and local development; the merge-policy
// semantics are identical to the Postgres store.
type InMemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	executions map[string]*api.ExecutionRecord
	rules      map[string]*api.RuleRecord

	collections map[string]int64
	asyncOps    map[string]int64
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		executions:  make(map[string]*api.ExecutionRecord),
		rules:       make(map[string]*api.RuleRecord),
		collections: make(map[string]int64),
		asyncOps:    make(map[string]int64),
	}
}

// Ensure InMemoryStore implements the interface.
var _ RelationalStore = (*InMemoryStore)(nil)

func collectionKey(name, version string) string {
	return name + "___" + version
}

func (s *InMemoryStore) CollectionID(ctx context.Context, name, version string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.collections[collectionKey(name, version)]
	if !ok {
		return 0, api.ErrReferenceNotFound
	}
	return id, nil
}

func (s *InMemoryStore) AsyncOperationID(ctx context.Context, externalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.asyncOps[externalID]
	if !ok {
		return 0, api.ErrReferenceNotFound
	}
	return id, nil
}

func (s *InMemoryStore) ExecutionID(ctx context.Context, arn string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[arn]
	if !ok {
		return 0, api.ErrReferenceNotFound
	}
	return rec.ID, nil
}

func (s *InMemoryStore) GetExecution(ctx context.Context, arn string) (*api.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.executions[arn]
	if !ok {
		return nil, api.ErrExecutionNotFound
	}
	return cloneExecution(rec), nil
}

func (s *InMemoryStore) CreateCollection(ctx context.Context, name, version string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := collectionKey(name, version)
	if id, ok := s.collections[key]; ok {
		return id, nil
	}
	s.nextID++
	s.collections[key] = s.nextID
	return s.nextID, nil
}

func (s *InMemoryStore) CreateAsyncOperation(ctx context.Context, externalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.asyncOps[externalID]; ok {
		return id, nil
	}
	s.nextID++
	s.asyncOps[externalID] = s.nextID
	return s.nextID, nil
}

// InTx runs fn against a staged view of the store. Writes become visible
// only after fn returns nil; an error from fn discards everything staged.
func (s *InMemoryStore) InTx(ctx context.Context, fn func(tx RelationalTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:      s,
		executions: make(map[string]*api.ExecutionRecord),
		rules:      make(map[string]*api.RuleRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for arn, rec := range tx.executions {
		s.executions[arn] = rec
	}
	for name, rec := range tx.rules {
		s.rules[name] = rec
	}
	return nil
}

// memTx stages writes until commit. Surrogate ids are allocated eagerly and
// burned on rollback, like a database sequence.
type memTx struct {
	store      *InMemoryStore
	executions map[string]*api.ExecutionRecord
	rules      map[string]*api.RuleRecord
}

var _ RelationalTx = (*memTx)(nil)

func (tx *memTx) lookupExecution(arn string) *api.ExecutionRecord {
	if rec, ok := tx.executions[arn]; ok {
		return rec
	}
	return tx.store.executions[arn]
}

func (tx *memTx) UpsertExecution(ctx context.Context, rec *api.ExecutionRecord, policy MergePolicy) (int64, error) {
	existing := tx.lookupExecution(rec.Arn)
	if existing == nil {
		tx.store.nextID++
		cl := cloneExecution(rec)
		cl.ID = tx.store.nextID
		tx.executions[rec.Arn] = cl
		return cl.ID, nil
	}

	switch policy {
	case MergeFull:
		cl := cloneExecution(rec)
		cl.ID = existing.ID
		tx.executions[rec.Arn] = cl
		return cl.ID, nil

	case MergeRestricted:
		cl := cloneExecution(existing)
		cl.OriginalPayload = cloneMap(rec.OriginalPayload)
		cl.CreatedAt = rec.CreatedAt
		cl.UpdatedAt = rec.UpdatedAt
		cl.Timestamp = rec.Timestamp
		tx.executions[rec.Arn] = cl
		return cl.ID, nil

	default:
		return 0, fmt.Errorf("unknown merge policy %d", policy)
	}
}

func (tx *memTx) InsertRule(ctx context.Context, rec *api.RuleRecord) (int64, error) {
	if _, ok := tx.rules[rec.Name]; ok {
		return 0, api.ErrRuleExists
	}
	if _, ok := tx.store.rules[rec.Name]; ok {
		return 0, api.ErrRuleExists
	}

	tx.store.nextID++
	cl := cloneRule(rec)
	cl.ID = tx.store.nextID
	tx.rules[rec.Name] = cl
	return cl.ID, nil
}

// GetRule reads a stored rule. Test helper; the sync pipeline itself never
// reads rules back.
func (s *InMemoryStore) GetRule(ctx context.Context, name string) (*api.RuleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rules[name]
	if !ok {
		return nil, api.ErrRuleNotFound
	}
	return cloneRule(rec), nil
}

// ExecutionCount returns the number of stored execution rows.
func (s *InMemoryStore) ExecutionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executions)
}

// RuleCount returns the number of stored rule rows.
func (s *InMemoryStore) RuleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

func cloneExecution(rec *api.ExecutionRecord) *api.ExecutionRecord {
	cl := *rec
	cl.Tasks = cloneMap(rec.Tasks)
	cl.OriginalPayload = cloneMap(rec.OriginalPayload)
	cl.FinalPayload = cloneMap(rec.FinalPayload)
	cl.Error = cloneMap(rec.Error)
	cl.CollectionID = cloneID(rec.CollectionID)
	cl.AsyncOperationID = cloneID(rec.AsyncOperationID)
	cl.ParentID = cloneID(rec.ParentID)
	return &cl
}

func cloneRule(rec *api.RuleRecord) *api.RuleRecord {
	cl := *rec
	cl.Value = cloneMap(rec.Value)
	return &cl
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
