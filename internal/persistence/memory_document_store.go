package persistence

import (
	"context"
	"sync"

	"github.com/duplexhq/duplex/pkg/api"
)

// InMemoryDocumentStore is a goroutine-safe DocumentStore backed by maps.
// It counts writes so tests can verify the writer's exactly-once contract
// against the document collaborator.
type InMemoryDocumentStore struct {
	mu         sync.Mutex
	executions map[string]*api.CanonicalEvent
	rules      map[string]api.Rule

	executionWrites int
	ruleWrites      int
}

// NewInMemoryDocumentStore creates a new InMemoryDocumentStore.
func NewInMemoryDocumentStore() *InMemoryDocumentStore {
	return &InMemoryDocumentStore{
		executions: make(map[string]*api.CanonicalEvent),
		rules:      make(map[string]api.Rule),
	}
}

// Ensure InMemoryDocumentStore implements DocumentStore.
var _ DocumentStore = (*InMemoryDocumentStore)(nil)

func (s *InMemoryDocumentStore) StoreExecution(ctx context.Context, ev *api.CanonicalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl := *ev
	s.executions[ev.Arn] = &cl
	s.executionWrites++
	return nil
}

func (s *InMemoryDocumentStore) StoreRule(ctx context.Context, rule api.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules[rule.Name] = rule
	s.ruleWrites++
	return nil
}

// GetExecution returns the mirrored event for an arn, or false if absent.
func (s *InMemoryDocumentStore) GetExecution(arn string) (*api.CanonicalEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.executions[arn]
	if !ok {
		return nil, false
	}
	cl := *ev
	return &cl, true
}

// ExecutionWrites returns how many times StoreExecution has been invoked.
func (s *InMemoryDocumentStore) ExecutionWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionWrites
}

// RuleWrites returns how many times StoreRule has been invoked.
func (s *InMemoryDocumentStore) RuleWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ruleWrites
}
