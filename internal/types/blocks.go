package types

// Block kinds. The type tag on a session selects assistant behavior and the
// welcome line shown before the first turn. "general" is the plain chatbot.
const (
	KindIdea        = "idea"
	KindProblem     = "problem"
	KindPossibility = "possibility"
	KindConcept     = "concept"
	KindNeeds       = "needs"
	KindOpportunity = "opportunity"
	KindOutcome     = "outcome"
	KindMoonshot    = "moonshot"
	KindGeneral     = "general"
)

var welcomeByKind = map[string]string{
	KindIdea:        "Let's develop your idea. What are you thinking about?",
	KindProblem:     "Describe the problem you want to define and I'll help you frame it.",
	KindPossibility: "What possibility would you like to explore?",
	KindConcept:     "Tell me about the concept you want to shape.",
	KindNeeds:       "Whose needs are we looking at, and what do you know so far?",
	KindOpportunity: "Describe the opportunity you see.",
	KindOutcome:     "What outcome are you working towards?",
	KindMoonshot:    "Dream big. What's the moonshot?",
	KindGeneral:     "Welcome to KRAFT. How can I help you today?",
}

// IsBlockKind reports whether the type routes through the block analysis
// endpoint rather than the plain chat endpoint.
func IsBlockKind(kind string) bool {
	switch kind {
	case KindIdea, KindProblem, KindPossibility, KindConcept,
		KindNeeds, KindOpportunity, KindOutcome, KindMoonshot:
		return true
	}
	return false
}

// Welcome returns the system welcome text for a session type. Unknown types
// fall back to the general greeting.
func Welcome(kind string) string {
	if text, ok := welcomeByKind[kind]; ok {
		return text
	}
	return welcomeByKind[KindGeneral]
}

// CardKeys is the ordered set of structured-payload keys rendered as cards.
// The order mirrors the backend's flow status, so cards appear in the order
// the assistant fills them in.
var CardKeys = []string{
	"title",
	"abstract",
	"stakeholders",
	"tags",
	"assumptions",
	"constraints",
	"risks",
	"aspects_implications",
	"impact",
	"connections",
	"classifications",
	"think_models",
}
