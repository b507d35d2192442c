package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"mcpgate/pkg/catalog"
)

// Fetcher retrieves a schema bundle for a ref; the catalog client
// satisfies this.
type Fetcher interface {
	Schema(ctx context.Context, ref string) (*catalog.SchemaBundle, error)
}

// Validators is the compiled input/output pair for one schema ref.
type Validators struct {
	input  *jsonschema.Resolved
	output *jsonschema.Resolved
}

// ValidateInput returns a flat list of validation errors, empty on success.
func (v *Validators) ValidateInput(data any) []string {
	return validate(v.input, data)
}

func (v *Validators) ValidateOutput(data any) []string {
	return validate(v.output, data)
}

func validate(resolved *jsonschema.Resolved, data any) []string {
	if err := resolved.Validate(data); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// Cache memoizes compiled validators by schema ref for the process
// lifetime. There is no TTL or invalidation: a changed schema needs a new
// ref or a restart. The fetch-and-compile runs outside the lock so a race
// to populate the same ref converges by idempotent recompute instead of
// serializing callers.
type Cache struct {
	Fetcher Fetcher

	mu    sync.RWMutex
	items map[string]*Validators
}

func NewCache(fetcher Fetcher) *Cache {
	return &Cache{Fetcher: fetcher, items: map[string]*Validators{}}
}

func (c *Cache) Get(ctx context.Context, ref string) (*Validators, error) {
	c.mu.RLock()
	cached, ok := c.items[ref]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	bundle, err := c.Fetcher.Schema(ctx, ref)
	if err != nil {
		return nil, err
	}
	input, err := compile(bundle.Input)
	if err != nil {
		return nil, fmt.Errorf("schema %q input: %w", ref, err)
	}
	output, err := compile(bundle.Output)
	if err != nil {
		return nil, fmt.Errorf("schema %q output: %w", ref, err)
	}
	v := &Validators{input: input, output: output}

	c.mu.Lock()
	if existing, ok := c.items[ref]; ok {
		v = existing
	} else {
		c.items[ref] = v
	}
	c.mu.Unlock()
	return v, nil
}

func compile(raw json.RawMessage) (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}
