// Package domain contains core domain types for the safecoach application.
package domain

import "strings"

// Category is the single intent assigned to an inbound message.
type Category string

const (
	CategoryCrisis          Category = "CRISIS"
	CategoryPrescription    Category = "PRESCRIPTION"
	CategoryJailbreak       Category = "JAILBREAK"
	CategoryCoach           Category = "COACH"
	CategoryTherapistSearch Category = "THERAPIST_SEARCH"
	CategoryBookingEmail    Category = "BOOKING_EMAIL"
	CategoryOutOfScope      Category = "OUT_OF_SCOPE"
)

// Categories lists every category in precedence order.
var Categories = []Category{
	CategoryCrisis,
	CategoryJailbreak,
	CategoryPrescription,
	CategoryBookingEmail,
	CategoryTherapistSearch,
	CategoryCoach,
	CategoryOutOfScope,
}

// ShortCircuits reports whether the safety gate answers this category itself.
func (c Category) ShortCircuits() bool {
	switch c {
	case CategoryCrisis, CategoryPrescription, CategoryJailbreak, CategoryOutOfScope:
		return true
	}
	return false
}

// InScope reports whether a task agent handles this category.
func (c Category) InScope() bool {
	switch c {
	case CategoryCoach, CategoryTherapistSearch, CategoryBookingEmail:
		return true
	}
	return false
}

// ParseCategory maps a case-insensitive name to a Category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

// ConfidenceSource records how a classification was decided.
type ConfidenceSource string

const (
	SourceKeyword       ConfidenceSource = "KEYWORD"
	SourceModelFallback ConfidenceSource = "MODEL_FALLBACK"
)

// RuleList names one of the matcher's rule lists.
type RuleList string

const (
	ListCrisis         RuleList = "crisis"
	ListEmotionalState RuleList = "emotional_state"
	ListPrescription   RuleList = "prescription"
	ListJailbreak      RuleList = "jailbreak"
	ListScopeCoach     RuleList = "scope.coach"
	ListScopeTherapist RuleList = "scope.therapist_search"
	ListScopeBooking   RuleList = "scope.booking_email"
	ListScopeOffTopic  RuleList = "scope.off_topic"
)

// RuleHit identifies one rule that fired on a message.
type RuleHit struct {
	ID   string   `json:"id"`
	List RuleList `json:"list"`
}

// ClassificationResult is the classifier's verdict for one message.
type ClassificationResult struct {
	Category         Category         `json:"category"`
	MatchedRules     []string         `json:"matched_rules"`
	ConfidenceSource ConfidenceSource `json:"confidence_source"`
}
