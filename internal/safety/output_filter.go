package safety

import (
	"regexp"

	"github.com/ashureev/safecoach/internal/domain"
)

// SafeCoachFallback replaces generated text that failed screening.
const SafeCoachFallback = "I can't help with medication, dosing, or anything outside safe coaching. " +
	"A licensed professional can help with medical questions. If you like, we can try a short coping " +
	"exercise together instead."

// unsafeOutputRules are prescription rules that indicate the model gave
// medical instructions rather than merely mentioning the topic.
var unsafeOutputRules = map[string]bool{
	"rx.dosage":     true,
	"rx.milligrams": true,
	"rx.drug_names": true,
}

var pillInstruction = regexp.MustCompile(`(?i)\b(take|taking|increase|double|stop taking)\b[^.]{0,40}\b(pills?|tablets?|capsules?)\b`)

// OutputFilter screens generated coach text with the classifier's active
// rules. Jailbreak echoes and dosing instructions are replaced.
type OutputFilter struct {
	classifier *Classifier
}

// NewOutputFilter creates a filter that follows classifier rule reloads.
func NewOutputFilter(classifier *Classifier) *OutputFilter {
	return &OutputFilter{classifier: classifier}
}

// Screen returns text unchanged when it is safe. Otherwise it returns
// SafeCoachFallback and the ids of the rules that tripped.
func (f *OutputFilter) Screen(text string) (string, []string) {
	normalized := domain.Normalize(text)
	hits := f.classifier.Matcher().Match(normalized)

	var tripped []string
	for _, h := range hits {
		if h.List == domain.ListJailbreak || (h.List == domain.ListPrescription && unsafeOutputRules[h.ID]) {
			tripped = append(tripped, h.ID)
		}
	}
	if pillInstruction.MatchString(normalized) {
		tripped = append(tripped, "output.pill_instruction")
	}
	if len(tripped) == 0 {
		return text, nil
	}
	return SafeCoachFallback, tripped
}
