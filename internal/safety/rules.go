// Package safety implements deterministic message classification and the
// safety gate that answers crisis, prescription, jailbreak and off-topic
// messages before any task agent runs.
package safety

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/safecoach/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// RuleSpec is one keyword or pattern rule as written in the rules file.
type RuleSpec struct {
	ID      string `yaml:"id"`
	Pattern string `yaml:"pattern"`
	Regex   bool   `yaml:"regex"`
}

// ScopeRules groups the rules that signal which capability a message wants.
type ScopeRules struct {
	Coach           []RuleSpec `yaml:"coach"`
	TherapistSearch []RuleSpec `yaml:"therapist_search"`
	BookingEmail    []RuleSpec `yaml:"booking_email"`
	OffTopic        []RuleSpec `yaml:"off_topic"`
}

// RuleSet is the full configuration a Matcher is built from.
type RuleSet struct {
	Version        int        `yaml:"version"`
	Crisis         []RuleSpec `yaml:"crisis"`
	EmotionalState []RuleSpec `yaml:"emotional_state"`
	Prescription   []RuleSpec `yaml:"prescription"`
	Jailbreak      []RuleSpec `yaml:"jailbreak"`
	Scope          ScopeRules `yaml:"scope"`
}

type ruleGroup struct {
	list  domain.RuleList
	rules []RuleSpec
}

// groups returns the rule lists in evaluation order.
func (rs RuleSet) groups() []ruleGroup {
	return []ruleGroup{
		{domain.ListCrisis, rs.Crisis},
		{domain.ListJailbreak, rs.Jailbreak},
		{domain.ListPrescription, rs.Prescription},
		{domain.ListScopeBooking, rs.Scope.BookingEmail},
		{domain.ListScopeTherapist, rs.Scope.TherapistSearch},
		{domain.ListEmotionalState, rs.EmotionalState},
		{domain.ListScopeCoach, rs.Scope.Coach},
		{domain.ListScopeOffTopic, rs.Scope.OffTopic},
	}
}

// Counts returns the number of rules per list.
func (rs RuleSet) Counts() map[domain.RuleList]int {
	counts := make(map[domain.RuleList]int)
	for _, g := range rs.groups() {
		counts[g.list] = len(g.rules)
	}
	return counts
}

// DefaultRuleSet returns the rules compiled into the binary.
func DefaultRuleSet() (RuleSet, error) {
	return ParseRuleSet(defaultRules)
}

// LoadRuleSet reads a rules file. An empty path yields the default rules.
func LoadRuleSet(path string) (RuleSet, error) {
	if path == "" {
		return DefaultRuleSet()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes and validates YAML rule data.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Validate checks ids are unique and every rule has a pattern.
func (rs RuleSet) Validate() error {
	if len(rs.Crisis) == 0 {
		return errors.New("rules: crisis list cannot be empty")
	}
	seen := make(map[string]domain.RuleList)
	for _, g := range rs.groups() {
		for _, r := range g.rules {
			if strings.TrimSpace(r.ID) == "" {
				return fmt.Errorf("rules: %s has a rule without id", g.list)
			}
			if strings.TrimSpace(r.Pattern) == "" {
				return fmt.Errorf("rules: %s has an empty pattern", r.ID)
			}
			if prev, dup := seen[r.ID]; dup {
				return fmt.Errorf("rules: duplicate id %q in %s and %s", r.ID, prev, g.list)
			}
			seen[r.ID] = g.list
		}
	}
	return nil
}
