// Package rules resolves per-host check parameters from configured rule-sets.
//
// A rule-set is an ordered list of rules. Each rule carries a partial
// parameter set and optional host patterns. Resolution starts from the check
// plugin's defaults and, walking the rules in order, takes every key from the
// first enabled rule that matches the host and sets it.
package rules

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/supporttools/prism-check/pkg/types"
)

// Rule is a single parameter override, as loaded from configuration.
type Rule = types.RuleConfig

// Matches reports whether rule applies to host.
func Matches(rule Rule, host string) bool {
	if rule.Disabled {
		return false
	}
	if len(rule.Hosts) == 0 {
		return true
	}
	for _, pattern := range rule.Hosts {
		if ok, err := path.Match(pattern, host); err == nil && ok {
			return true
		}
	}
	return false
}

// Store holds rule-sets by name. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	rulesets map[string][]Rule
}

// NewStore creates a store from rule-sets. The input is copied.
func NewStore(rulesets map[string][]Rule) (*Store, error) {
	s := &Store{}
	if err := s.Replace(rulesets); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace validates rulesets and swaps them in atomically. On error the
// current rules are kept.
func (s *Store) Replace(rulesets map[string][]Rule) error {
	copied := make(map[string][]Rule, len(rulesets))
	for name, rules := range rulesets {
		list := make([]Rule, len(rules))
		for i, rule := range rules {
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("rule-set %q rule %d: %w", name, i, err)
			}
			list[i] = Rule{
				Hosts:       append([]string(nil), rule.Hosts...),
				Value:       rule.Value.Clone(),
				Disabled:    rule.Disabled,
				Description: rule.Description,
			}
		}
		copied[name] = list
	}

	s.mu.Lock()
	s.rulesets = copied
	s.mu.Unlock()
	return nil
}

// Resolve returns the effective parameters of ruleset for host. defaults is
// not modified. An empty ruleset name returns a copy of defaults.
func (s *Store) Resolve(ruleset, host string, defaults types.Parameters) types.Parameters {
	params := defaults.Clone()
	if ruleset == "" {
		return params
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]bool)
	for _, rule := range s.rulesets[ruleset] {
		if !Matches(rule, host) {
			continue
		}
		for key, value := range rule.Value {
			if set[key] {
				continue
			}
			params[key] = value
			set[key] = true
		}
	}
	return params
}

// Rules returns a copy of the rules of one rule-set.
func (s *Store) Rules(ruleset string) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := s.rulesets[ruleset]
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Names returns the configured rule-set names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.rulesets))
	for name := range s.rulesets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
