package parser

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/repository"
)

type matchFunc func(source, host string) bool

func newMatcher(cfg repository.ParserConfig) (matchFunc, error) {
	switch cfg.AppliesTo {
	case repository.AppliesToAll:
		return func(string, string) bool { return true }, nil
	case repository.AppliesToNone, "":
		return func(string, string) bool { return false }, nil
	case repository.AppliesToAllowFilter:
		sources, err := globList(cfg.AppliesToSourceFilter)
		if err != nil {
			return nil, filterError(cfg.Name, err)
		}
		hosts, err := globList(cfg.AppliesToHostFilter)
		if err != nil {
			return nil, filterError(cfg.Name, err)
		}
		return func(source, host string) bool {
			return matchGlobs(sources, source) && matchGlobs(hosts, host)
		}, nil
	case repository.AppliesToAllowRegex:
		source, err := optionalRegexp(cfg.AppliesToSourceFilter)
		if err != nil {
			return nil, filterError(cfg.Name, err)
		}
		host, err := optionalRegexp(cfg.AppliesToHostFilter)
		if err != nil {
			return nil, filterError(cfg.Name, err)
		}
		return func(s, h string) bool {
			return (source == nil || source.MatchString(s)) && (host == nil || host.MatchString(h))
		}, nil
	default:
		return nil, filterError(cfg.Name, fmt.Errorf("unknown applies_to %q", cfg.AppliesTo))
	}
}

// globList splits a comma separated list of shell patterns
func globList(list string) ([]string, error) {
	var patterns []string
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// matchGlobs reports whether value matches any pattern; an empty list matches everything
func matchGlobs(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := path.Match(p, value); ok {
			return true
		}
	}
	return false
}

func optionalRegexp(expr string) (*regexp.Regexp, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	return regexp.Compile(expr)
}

func filterError(parser string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: parser %s: %v", errors.ErrInvalidConfig, parser, err),
		"Parser", "New", "compile applicability filter")
}
