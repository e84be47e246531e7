package acquire

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Selector picks the acquisition strategy for a request: an explicit name
// wins, then the longest matching host-suffix override, then the default.
type Selector struct {
	strategies map[string]Strategy
	def        string
	overrides  []override
}

type override struct {
	suffix   string
	strategy string
}

// NewSelector validates that the default and every override name a
// registered strategy.
func NewSelector(def string, overrides map[string]string, strategies ...Strategy) (*Selector, error) {
	s := &Selector{strategies: make(map[string]Strategy, len(strategies)), def: def}
	for _, st := range strategies {
		s.strategies[st.Name()] = st
	}
	if _, ok := s.strategies[def]; !ok {
		return nil, fmt.Errorf("default strategy %q: %w", def, ErrUnknownStrategy)
	}
	for host, name := range overrides {
		if _, ok := s.strategies[name]; !ok {
			return nil, fmt.Errorf("override %s=%s: %w", host, name, ErrUnknownStrategy)
		}
		s.overrides = append(s.overrides, override{suffix: strings.ToLower(host), strategy: name})
	}
	// Longest suffix first so "clips.twitch.tv" beats "twitch.tv".
	sort.Slice(s.overrides, func(i, j int) bool {
		if len(s.overrides[i].suffix) != len(s.overrides[j].suffix) {
			return len(s.overrides[i].suffix) > len(s.overrides[j].suffix)
		}
		return s.overrides[i].suffix < s.overrides[j].suffix
	})
	return s, nil
}

// Select returns the strategy for sourceURL. requested may be empty.
func (s *Selector) Select(sourceURL, requested string) (Strategy, error) {
	if requested != "" {
		st, ok := s.strategies[strings.ToLower(requested)]
		if !ok {
			return nil, fmt.Errorf("%q: %w", requested, ErrUnknownStrategy)
		}
		return st, nil
	}

	if host := hostOf(sourceURL); host != "" {
		for _, o := range s.overrides {
			if host == o.suffix || strings.HasSuffix(host, "."+o.suffix) {
				return s.strategies[o.strategy], nil
			}
		}
	}
	return s.strategies[s.def], nil
}

// Names lists the registered strategies.
func (s *Selector) Names() []string {
	names := make([]string, 0, len(s.strategies))
	for n := range s.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
