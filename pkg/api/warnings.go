package api

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Warning categories surfaced in GET /health.
const (
	WarningCategoryAI         = "ai"         // provider fell back to the mock generator
	WarningCategoryAlerting   = "alerting"   // bootstrap file missing or produced no conditions
	WarningCategoryEncryption = "encryption" // no encryption key; channels and webhooks disabled
)

// Warning is a non-fatal startup or runtime condition an operator
// should know about.
type Warning struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Component string    `json:"component,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Warnings is the in-memory warning registry. Thread-safe. Not
// persisted; warnings reset on restart.
type Warnings struct {
	mu   sync.RWMutex
	byID map[string]*Warning
}

// NewWarnings creates an empty registry.
func NewWarnings() *Warnings {
	return &Warnings{byID: make(map[string]*Warning)}
}

// Add records a warning and returns its ID. A warning with the same
// category and component replaces the previous one.
func (w *Warnings) Add(category, message, details, component string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, existing := range w.byID {
		if existing.Category == category && existing.Component == component {
			delete(w.byID, id)
			break
		}
	}

	id := uuid.New().String()
	w.byID[id] = &Warning{
		ID:        id,
		Category:  category,
		Message:   message,
		Details:   details,
		Component: component,
		CreatedAt: time.Now(),
	}
	return id
}

// List returns value copies of the active warnings, ordered by category
// then component for deterministic output.
func (w *Warnings) List() []*Warning {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*Warning, 0, len(w.byID))
	for _, warning := range w.byID {
		cp := *warning
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Component < out[j].Component
	})
	return out
}

// Clear removes the warning matching category and component, reporting
// whether one existed.
func (w *Warnings) Clear(category, component string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, existing := range w.byID {
		if existing.Category == category && existing.Component == component {
			delete(w.byID, id)
			return true
		}
	}
	return false
}
