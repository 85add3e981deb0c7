package plot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vampirenirmal/novelist/internal/story"
)

// Registry holds every plot thread of a story, keyed by name. It is a
// projection of the store's plot_threads representation: loaded at the start
// of each operation that needs it and written back in full at the end, never
// kept as an independently durable structure.
type Registry struct {
	threads map[string]*Thread
	order   []string // insertion order, for deterministic serialization
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		threads: make(map[string]*Thread),
		logger:  slog.Default().With("component", "plot_registry"),
	}
}

// AddThread inserts or replaces a thread by name. Name is the identity key.
func (r *Registry) AddThread(t *Thread) {
	if _, exists := r.threads[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.threads[t.Name] = t
}

// Thread returns the thread with the given name.
func (r *Registry) Thread(name string) (*Thread, error) {
	t, ok := r.threads[name]
	if !ok {
		return nil, fmt.Errorf("plot thread %q: %w", name, story.ErrNotFound)
	}
	return t, nil
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	return len(r.threads)
}

// Names returns thread names in insertion order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ActiveThreads returns all threads that are neither resolved nor abandoned,
// ordered major before minor before background, ties broken by most recently
// developed first.
func (r *Registry) ActiveThreads() []*Thread {
	var active []*Thread
	for _, name := range r.order {
		if t := r.threads[name]; t.Active() {
			active = append(active, t)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Importance.Rank() != active[j].Importance.Rank() {
			return active[i].Importance.Rank() < active[j].Importance.Rank()
		}
		return active[j].LastDevelopedAt().Before(active[i].LastDevelopedAt())
	})
	return active
}

// UnresolvedMajorThreads returns active threads of major importance. The
// orchestrator uses this as the story-completion gate: a non-empty result is
// reported before a story is marked complete.
func (r *Registry) UnresolvedMajorThreads() []*Thread {
	var unresolved []*Thread
	for _, t := range r.ActiveThreads() {
		if t.Importance == story.ImportanceMajor {
			unresolved = append(unresolved, t)
		}
	}
	return unresolved
}

// Update is one thread update extracted from scene text by the prose
// understanding collaborator.
type Update struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	Status            story.ThreadStatus     `json:"status" jsonschema:"enum=introduced,enum=developed,enum=resolved,enum=abandoned"`
	Importance        story.ThreadImportance `json:"importance" jsonschema:"enum=major,enum=minor,enum=background"`
	RelatedCharacters []string               `json:"related_characters"`
	Development       string                 `json:"development"`
}

// ApplyUpdate applies one extracted update idempotently. A known name gets a
// development (or resolution/abandonment per status); an unknown name
// creates a new thread seeded with the current coordinate as its first
// appearance.
func (r *Registry) ApplyUpdate(at story.Coordinate, u Update) error {
	if u.Name == "" {
		return fmt.Errorf("thread update without name: %w", story.ErrInvalidInput)
	}

	t, ok := r.threads[u.Name]
	if !ok {
		importance := u.Importance
		if importance == "" {
			importance = story.ImportanceMinor
		}
		t = NewThread(u.Name, u.Description, importance, at)
		r.AddThread(t)
		r.logger.Debug("introduced plot thread",
			"thread", u.Name,
			"importance", importance,
			"at", at.String())
	}

	for _, slug := range u.RelatedCharacters {
		t.AddRelatedCharacter(slug)
	}
	if u.Description != "" {
		t.Description = u.Description
	}

	switch u.Status {
	case story.ThreadResolved:
		return t.Resolve(at, u.Development)
	case story.ThreadAbandoned:
		return t.Abandon(at, u.Development)
	default:
		if u.Development == "" {
			// Nothing new happened to this thread in the scene.
			return nil
		}
		return t.AddDevelopment(at, u.Development)
	}
}

// MarshalJSON serializes the registry losslessly, preserving thread order
// and full development history.
func (r *Registry) MarshalJSON() ([]byte, error) {
	threads := make([]*Thread, 0, len(r.order))
	for _, name := range r.order {
		threads = append(threads, r.threads[name])
	}
	return json.Marshal(threads)
}

// UnmarshalJSON restores a registry serialized by MarshalJSON.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var threads []*Thread
	if err := json.Unmarshal(data, &threads); err != nil {
		return fmt.Errorf("parsing plot threads: %w", err)
	}
	r.threads = make(map[string]*Thread, len(threads))
	r.order = r.order[:0]
	for _, t := range threads {
		r.AddThread(t)
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "plot_registry")
	}
	return nil
}
