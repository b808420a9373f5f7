package search

import (
	"context"
	"sync"
)

// MockWebSearcher is a configurable WebSearcher for tests.
type MockWebSearcher struct {
	SearchFunc func(ctx context.Context, query string) ([]Result, error)

	mu      sync.Mutex
	queries []string
}

func (m *MockWebSearcher) Search(ctx context.Context, query string) ([]Result, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()

	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, query)
	}
	return nil, nil
}

// Queries returns the queries seen so far.
func (m *MockWebSearcher) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}
