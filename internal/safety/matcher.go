package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/safecoach/internal/domain"
)

// distressProbes are everyday phrases that must never trip a crisis rule.
var distressProbes = []string{
	"i feel anxious",
	"i'm stressed about work",
	"i feel overwhelmed",
	"i feel sad today",
	"i am so tired",
	"i'm panicking before my exam",
	"i feel lonely",
	"i'm worried about my family",
}

type compiledRule struct {
	id      string
	list    domain.RuleList
	literal string
	re      *regexp.Regexp
}

func (r compiledRule) matches(text string) bool {
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.literal)
}

// Matcher runs compiled rule lists against normalized text. A Matcher is
// immutable once built; reloading rules means building a new one.
type Matcher struct {
	rules   []compiledRule
	version int
	counts  map[domain.RuleList]int
}

// NewMatcher compiles a RuleSet.
func NewMatcher(rs RuleSet) (*Matcher, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}

	m := &Matcher{version: rs.Version, counts: rs.Counts()}
	for _, g := range rs.groups() {
		for _, rule := range g.rules {
			cr := compiledRule{id: rule.ID, list: g.list}
			if rule.Regex {
				re, err := regexp.Compile("(?i)" + rule.Pattern)
				if err != nil {
					return nil, fmt.Errorf("compile rule %s: %w", rule.ID, err)
				}
				cr.re = re
			} else {
				cr.literal = domain.Normalize(rule.Pattern)
			}
			m.rules = append(m.rules, cr)
		}
	}

	for _, probe := range distressProbes {
		for _, hit := range m.Match(probe) {
			if hit.List == domain.ListCrisis {
				return nil, fmt.Errorf("rule %s matches everyday distress phrase %q", hit.ID, probe)
			}
		}
	}
	return m, nil
}

// MustDefaultMatcher builds a Matcher from the embedded rules and panics on error.
func MustDefaultMatcher() *Matcher {
	rs, err := DefaultRuleSet()
	if err != nil {
		panic(err)
	}
	m, err := NewMatcher(rs)
	if err != nil {
		panic(err)
	}
	return m
}

// Match returns every rule that fires on normalized text, in list order.
func (m *Matcher) Match(normalized string) Hits {
	var hits Hits
	for _, r := range m.rules {
		if r.matches(normalized) {
			hits = append(hits, domain.RuleHit{ID: r.id, List: r.list})
		}
	}
	return hits
}

// Version returns the version field of the source rule set.
func (m *Matcher) Version() int { return m.version }

// Counts returns the number of rules per list.
func (m *Matcher) Counts() map[domain.RuleList]int {
	out := make(map[domain.RuleList]int, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Hits is the ordered set of rules that fired on one message.
type Hits []domain.RuleHit

// Has reports whether any rule from one of the lists fired.
func (h Hits) Has(lists ...domain.RuleList) bool {
	for _, hit := range h {
		for _, l := range lists {
			if hit.List == l {
				return true
			}
		}
	}
	return false
}

// IDs returns rule ids from the given lists, or all ids when none are given.
func (h Hits) IDs(lists ...domain.RuleList) []string {
	ids := make([]string, 0, len(h))
	for _, hit := range h {
		if len(lists) == 0 {
			ids = append(ids, hit.ID)
			continue
		}
		for _, l := range lists {
			if hit.List == l {
				ids = append(ids, hit.ID)
				break
			}
		}
	}
	return ids
}
