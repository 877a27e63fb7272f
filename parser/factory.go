package parser

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/repository"
)

// Built-in parser type tags
const (
	TypeDelimited = "delimited"
	TypeRegex     = "regex"
	TypeJSON      = "json"
	TypeDefault   = "default"
)

// Constructor builds a parser for one parser config
type Constructor func(repo repository.Config, cfg repository.ParserConfig) (Parser, error)

// Factory maps parser type tags to constructors. It is safe for concurrent use.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory returns a factory with the built-in variants registered
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]Constructor)}
	f.constructors[TypeDelimited] = func(repo repository.Config, cfg repository.ParserConfig) (Parser, error) {
		return NewDelimited(repo, cfg)
	}
	f.constructors[TypeRegex] = func(repo repository.Config, cfg repository.ParserConfig) (Parser, error) {
		return NewRegex(repo, cfg)
	}
	f.constructors[TypeJSON] = func(repo repository.Config, cfg repository.ParserConfig) (Parser, error) {
		return NewJSON(repo, cfg)
	}
	f.constructors[TypeDefault] = func(repo repository.Config, cfg repository.ParserConfig) (Parser, error) {
		return NewDefault(repo, cfg)
	}
	return f
}

// Register adds a constructor for tag. Tags are case-insensitive and may only
// be registered once.
func (f *Factory) Register(tag string, c Constructor) error {
	tag = normalizeTag(tag)
	if tag == "" || c == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: parser tag and constructor are required", errors.ErrMissingConfig),
			"Factory", "Register", "add constructor")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.constructors[tag]; exists {
		return errors.WrapInvalid(fmt.Errorf("%w: parser type %q already registered", errors.ErrInvalidConfig, tag),
			"Factory", "Register", "add constructor")
	}
	f.constructors[tag] = c
	return nil
}

// Tags lists the registered type tags in sorted order
func (f *Factory) Tags() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tags := make([]string, 0, len(f.constructors))
	for tag := range f.constructors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Build constructs the parser selected by cfg.Type
func (f *Factory) Build(repo repository.Config, cfg repository.ParserConfig) (Parser, error) {
	f.mu.RLock()
	c, ok := f.constructors[normalizeTag(cfg.Type)]
	f.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q for parser %s of repository %s", errors.ErrUnknownParser, cfg.Type, cfg.Name, repo.Name),
			"Factory", "Build", "resolve parser type")
	}

	p, err := c(repo, cfg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Factory", "Build",
			fmt.Sprintf("construct parser %s of repository %s", cfg.Name, repo.Name))
	}
	return p, nil
}

// BuildDefault returns the pass-through parser used when nothing else applies
func (f *Factory) BuildDefault(repo repository.Config) Parser {
	p, err := NewDefault(repo, repository.ParserConfig{
		Name:      DefaultName,
		Type:      TypeDefault,
		AppliesTo: repository.AppliesToAll,
	})
	if err != nil {
		// the default config has no filters or fields to reject
		panic(err)
	}
	return p
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
