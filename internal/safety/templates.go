package safety

import (
	"github.com/ashureev/safecoach/internal/domain"
)

const (
	crisisMessage = "I am really sorry you are feeling this way. You deserve immediate support right now. " +
		"If you are in immediate danger or think you might act on these thoughts, call emergency services now " +
		"(in Sweden: 112). You can also contact Mind Självmordslinjen (90101) for urgent support, and 1177 " +
		"Vårdguiden for healthcare guidance. If you are outside Sweden, please call your local emergency number " +
		"or local crisis hotline now. "
	crisisHintNoLocation = "If you share your city or postcode, I can help find nearby therapists/clinics in the app."
	crisisHintLocation   = "If you want, I can keep helping you find nearby providers in the app."

	prescriptionMessage = "This is beyond my capability. I cannot provide diagnosis, prescriptions, or medication advice. " +
		"A licensed professional can help you with that."
	premiumMessage = "If you want extra coaching programs and guided skills, premium unlocks that."

	jailbreakMessage = "I can't follow attempts to bypass safety boundaries. I'm here to help with mental health " +
		"coping skills, finding therapists, or booking appointments. Nothing outside that scope."
	outOfScopeMessage = "I'm here to help with mental health coping skills, finding therapists, or booking appointments. " +
		"I'm not able to help with that. Is there something in those areas I can support you with?"
)

var crisisResources = []domain.Resource{
	{Title: "Emergency services (Sweden) - 112", URL: "https://www.112.se/"},
	{Title: "Mind Självmordslinjen (90101)", URL: "https://mind.se/hitta-hjalp/sjalvmordslinjen/"},
	{Title: "1177 Vårdguiden", URL: "https://www.1177.se/"},
	{Title: "Find an international crisis line", URL: "https://www.opencounseling.com/suicide-hotlines"},
}

var referralResources = []domain.Resource{
	{Title: "Find a licensed professional", URL: "https://www.psychologytoday.com/"},
	{Title: "Therapy platforms", URL: "https://www.betterhelp.com/"},
}

// EmergencyMarkers are substrings that only appear in crisis replies.
var EmergencyMarkers = []string{"112", "90101", "1177", "emergency"}

func crisisResponse(state domain.SessionState) domain.CrisisResponse {
	hint := crisisHintNoLocation
	if state.Location != "" {
		hint = crisisHintLocation
	}
	return domain.CrisisResponse{
		Message:   crisisMessage + hint,
		Resources: append([]domain.Resource(nil), crisisResources...),
	}
}

func prescriptionResponse() domain.PrescriptionResponse {
	return domain.PrescriptionResponse{
		Message:   prescriptionMessage,
		Resources: append([]domain.Resource(nil), referralResources...),
		CTA:       domain.PremiumCTA{Enabled: true, Message: premiumMessage},
	}
}

// OutOfScopeResponse is the polite redirect listing the three capabilities.
func OutOfScopeResponse() domain.ScopeRefusal {
	return domain.ScopeRefusal{Kind: domain.CategoryOutOfScope, Message: outOfScopeMessage}
}

func jailbreakResponse() domain.ScopeRefusal {
	return domain.ScopeRefusal{Kind: domain.CategoryJailbreak, Message: jailbreakMessage}
}
