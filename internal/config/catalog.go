package config

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultLLMKey is the llms entry used when no model is selected.
const DefaultLLMKey = "llm"

// DefaultModelLabel is how the default entry is listed to clients.
const DefaultModelLabel = "(Default)"

// ErrModelNotFound is returned when a model name resolves to no entry.
var ErrModelNotFound = errors.New("model not found")

// Catalog maps model names to LLM configurations. It is immutable;
// a config reload builds a new Catalog.
type Catalog struct {
	llms map[string]LLMConfig
}

// NewCatalog copies llms into a new catalog.
func NewCatalog(llms map[string]LLMConfig) *Catalog {
	c := &Catalog{llms: make(map[string]LLMConfig, len(llms))}
	for name, llm := range llms {
		c.llms[name] = llm
	}
	return c
}

// Catalog builds the model catalog of this config.
func (c *Config) Catalog() *Catalog {
	return NewCatalog(c.LLMs)
}

// Names lists the selectable models, default first, the rest sorted.
// Returns nil and "" when nothing is configured.
func (c *Catalog) Names() ([]string, string) {
	if c == nil || len(c.llms) == 0 {
		return nil, ""
	}

	var defaultName string
	if llm, ok := c.llms[DefaultLLMKey]; ok && llm.Model != "" {
		defaultName = DefaultModelLabel
	}

	names := make([]string, 0, len(c.llms))
	for name := range c.llms {
		if name != DefaultLLMKey {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	if defaultName != "" {
		names = append([]string{defaultName}, names...)
	}
	return names, defaultName
}

// Len returns the number of configured entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.llms)
}

// Default resolves the default entry.
func (c *Catalog) Default() (LLMConfig, error) {
	return c.Resolve(DefaultModelLabel)
}

// Resolve looks up a model by name. "" and DefaultModelLabel both map to
// the default entry.
func (c *Catalog) Resolve(name string) (LLMConfig, error) {
	if c == nil {
		return LLMConfig{}, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	key := name
	if name == "" || name == DefaultModelLabel {
		key = DefaultLLMKey
	}
	llm, ok := c.llms[key]
	if !ok || llm.Model == "" {
		return LLMConfig{}, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	return llm, nil
}
