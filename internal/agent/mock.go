package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Mock provides scripted responses for testing, keyed by schema name for
// structured calls and matched in order for raw calls. It also counts
// invocations so tests can assert call bounds.
type Mock struct {
	mu          sync.Mutex
	textQueue   []string
	structured  map[string][]string
	TextCalls   int
	TextPrompts []string
	SchemaCalls map[string]int
}

// NewMock creates an empty mock agent.
func NewMock() *Mock {
	return &Mock{
		structured:  make(map[string][]string),
		SchemaCalls: make(map[string]int),
	}
}

// QueueText appends a response for the next Execute call.
func (m *Mock) QueueText(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textQueue = append(m.textQueue, responses...)
}

// QueueStructured appends a JSON response for the named schema.
func (m *Mock) QueueStructured(schemaName string, responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structured[schemaName] = append(m.structured[schemaName], responses...)
}

// Execute pops the next scripted text response.
func (m *Mock) Execute(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TextCalls++
	m.TextPrompts = append(m.TextPrompts, prompt)
	if len(m.textQueue) == 0 {
		return "mock prose.", nil
	}
	resp := m.textQueue[0]
	m.textQueue = m.textQueue[1:]
	return resp, nil
}

// ExecuteStructured pops the next scripted response for the schema and
// unmarshals it into out.
func (m *Mock) ExecuteStructured(ctx context.Context, system, prompt string, schema Schema, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SchemaCalls[schema.Name]++
	queue := m.structured[schema.Name]
	if len(queue) == 0 {
		return fmt.Errorf("mock: no response queued for schema %q", schema.Name)
	}
	resp := queue[0]
	m.structured[schema.Name] = queue[1:]
	if err := json.Unmarshal([]byte(resp), out); err != nil {
		return fmt.Errorf("mock response for %q is not valid JSON: %w", schema.Name, err)
	}
	return nil
}
