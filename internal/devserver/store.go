package devserver

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/sukryu/gorm-oso/pkg/client"
	"github.com/sukryu/gorm-oso/pkg/errors"
)

var ErrFactExists = errors.NewStatusError(http.StatusConflict, "fact already exists")

// FactStore keeps facts that are not derived from the caller's database.
type FactStore struct {
	mu    sync.RWMutex
	facts map[string]client.Fact
}

func NewFactStore() *FactStore {
	return &FactStore{facts: make(map[string]client.Fact)}
}

func factKey(f client.Fact) string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")"
}

func copyFact(f client.Fact) client.Fact {
	out := client.Fact{Name: f.Name}
	if f.Args != nil {
		out.Args = make([]client.Value, len(f.Args))
		copy(out.Args, f.Args)
	}
	return out
}

func validateFact(f client.Fact) error {
	if f.Name == "" {
		return errors.ErrInvalidInput.WithReason("fact name is required")
	}
	if len(f.Args) == 0 {
		return errors.ErrInvalidInput.WithReasonf("fact %s needs at least one argument", f.Name)
	}
	for i, a := range f.Args {
		if a.Type == "" || a.ID == "" {
			return errors.ErrInvalidInput.WithReasonf("fact %s: argument %d needs a type and an id", f.Name, i)
		}
	}
	return nil
}

func (s *FactStore) Insert(ctx context.Context, f client.Fact) error {
	if err := validateFact(f); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := factKey(f)
	if _, exists := s.facts[key]; exists {
		return ErrFactExists.WithReason(key)
	}
	s.facts[key] = copyFact(f)
	return nil
}

func (s *FactStore) Delete(ctx context.Context, f client.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := factKey(f)
	if _, exists := s.facts[key]; !exists {
		return errors.ErrNotFound.WithReason(key)
	}
	delete(s.facts, key)
	return nil
}

// List returns the facts called name, or every fact when name is empty,
// ordered by their rendered form.
func (s *FactStore) List(ctx context.Context, name string) []client.Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.facts))
	for k, f := range s.facts {
		if name == "" || f.Name == name {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	facts := make([]client.Fact, 0, len(keys))
	for _, k := range keys {
		facts = append(facts, copyFact(s.facts[k]))
	}
	return facts
}
