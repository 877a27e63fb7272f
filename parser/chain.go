package parser

import (
	"github.com/zhikook/chililog-server/repository"
)

// Chain is a repository's parser set: filtered parsers tried in configured
// order, then the catch-all.
type Chain struct {
	filtered []Parser
	catchAll Parser
}

// NewChain builds every parser of repo. Parsers that apply to None are
// built, so bad configs still fail fast, but never selected. Without an All
// parser the default parser is the catch-all.
func NewChain(f *Factory, repo repository.Config) (*Chain, error) {
	chain := &Chain{}
	for _, cfg := range repo.Parsers {
		p, err := f.Build(repo, cfg)
		if err != nil {
			return nil, err
		}
		switch cfg.AppliesTo {
		case repository.AppliesToNone:
		case repository.AppliesToAll:
			chain.catchAll = p
		default:
			chain.filtered = append(chain.filtered, p)
		}
	}
	if chain.catchAll == nil {
		chain.catchAll = f.BuildDefault(repo)
	}
	return chain, nil
}

// Select returns the first filtered parser matching source and host, else the catch-all
func (c *Chain) Select(source, host string) Parser {
	for _, p := range c.filtered {
		if p.AppliesTo(source, host) {
			return p
		}
	}
	return c.catchAll
}

// CatchAll returns the parser used when no filter matches
func (c *Chain) CatchAll() Parser { return c.catchAll }

// Filtered returns the filtered parsers in order
func (c *Chain) Filtered() []Parser { return c.filtered }
