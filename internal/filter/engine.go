// Package filter implements keyword rules that narrow the extracted candidates.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"site_watcher/internal/model"
)

// Kind is the matching mode of a rule.
type Kind string

// Supported rule kinds.
const (
	Include   Kind = "include"
	Exclude   Kind = "exclude"
	IncludeRe Kind = "include_re"
	ExcludeRe Kind = "exclude_re"
)

// Scope is the candidate text a rule is matched against.
type Scope string

// Supported scopes.
const (
	ScopeAll     Scope = "all"
	ScopeTitle   Scope = "title"
	ScopeContent Scope = "content"
)

// Rule is one compiled include or exclude rule.
type Rule struct {
	Kind  Kind
	Scope Scope
	Value string

	re *regexp.Regexp
}

// Parse builds rules from include and exclude expressions. An expression is
// "[title:|content:][re:]value"; without a scope prefix it matches title and
// content together.
func Parse(include, exclude []string) ([]Rule, error) {
	var rules []Rule
	for _, expr := range include {
		r, err := parseRule(expr, Include, IncludeRe)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	for _, expr := range exclude {
		r, err := parseRule(expr, Exclude, ExcludeRe)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Split breaks a semicolon-separated rule list into expressions, dropping
// blanks. Commas stay inside a rule so regex quantifiers like {1,3} survive.
func Split(list string) []string {
	var out []string
	for _, expr := range strings.Split(list, ";") {
		if expr = strings.TrimSpace(expr); expr != "" {
			out = append(out, expr)
		}
	}
	return out
}

func parseRule(expr string, plain, re Kind) (Rule, error) {
	r := Rule{Kind: plain, Scope: ScopeAll}
	v := strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(v, "title:"):
		r.Scope, v = ScopeTitle, strings.TrimPrefix(v, "title:")
	case strings.HasPrefix(v, "content:"):
		r.Scope, v = ScopeContent, strings.TrimPrefix(v, "content:")
	}
	if strings.HasPrefix(v, "re:") {
		r.Kind, v = re, strings.TrimPrefix(v, "re:")
		compiled, err := regexp.Compile("(?i)" + v)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid regex %q: %w", v, err)
		}
		r.re = compiled
	}
	if v == "" {
		return Rule{}, fmt.Errorf("empty filter expression %q", expr)
	}
	r.Value = v
	return r, nil
}

// Match checks whether a candidate passes the given set of rules.
// If no rules are provided, the candidate always passes.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func Match(c model.Candidate, rules []Rule) bool {
	if len(rules) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range rules {
		switch r.Kind {
		case Include, IncludeRe:
			hasIncludes = true
			if r.matches(c) {
				anyIncludeMatched = true
			}
		case Exclude, ExcludeRe:
			if r.matches(c) {
				return false
			}
		}
	}

	return !hasIncludes || anyIncludeMatched
}

// Apply returns the candidates that pass the rules, preserving order.
func Apply(candidates []model.Candidate, rules []Rule) []model.Candidate {
	if len(rules) == 0 {
		return candidates
	}
	out := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if Match(c, rules) {
			out = append(out, c)
		}
	}
	return out
}

func (r Rule) matches(c model.Candidate) bool {
	text := textForScope(c, r.Scope)
	switch r.Kind {
	case Include, Exclude:
		return strings.Contains(text, strings.ToLower(r.Value))
	case IncludeRe, ExcludeRe:
		return r.re != nil && r.re.MatchString(text)
	}
	return false
}

func textForScope(c model.Candidate, scope Scope) string {
	switch scope {
	case ScopeTitle:
		return strings.ToLower(c.Title)
	case ScopeContent:
		return strings.ToLower(c.Content)
	default:
		return strings.ToLower(c.Title + " " + c.Content)
	}
}
