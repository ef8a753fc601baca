package store

import (
	"regexp"
	"strings"
)

// Matcher selects cache keys for InvalidateMatching.
type Matcher interface {
	Match(key string) bool
}

// Exact matches one key.
type Exact string

func (e Exact) Match(key string) bool { return key == string(e) }

// Substring matches every key containing the string.
type Substring string

func (s Substring) Match(key string) bool { return string(s) != "" && strings.Contains(key, string(s)) }

// MatchFunc adapts a predicate.
type MatchFunc func(key string) bool

func (f MatchFunc) Match(key string) bool { return f(key) }

type pattern struct{ re *regexp.Regexp }

func (p pattern) Match(key string) bool { return p.re.MatchString(key) }

// Pattern compiles a regular expression matcher.
func Pattern(expr string) (Matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return pattern{re: re}, nil
}
