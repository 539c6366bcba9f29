package archetype

import "strings"

// Archetype is one of the four fixed response personas.
type Archetype string

const (
	Caregiver  Archetype = "caregiver"
	Challenger Archetype = "challenger"
	Oracle     Archetype = "oracle"
	Paradox    Archetype = "paradox"
)

// Score is an emotion intensity vector. All components are in [0, 1].
type Score struct {
	Sarcasm      float64 `json:"sarcasm"`
	Toxicity     float64 `json:"toxicity"`
	Manipulation float64 `json:"manipulation"`
}

// Select maps an emotion score to an archetype. First matching rule wins.
func Select(s Score) Archetype {
	switch {
	case s.Toxicity >= 0.6 || s.Manipulation >= 0.5:
		return Caregiver
	case s.Sarcasm >= 0.7:
		return Challenger
	case s.Sarcasm >= 0.4 || s.Toxicity >= 0.4 || s.Manipulation >= 0.4:
		return Oracle
	default:
		return Paradox
	}
}

// Parse resolves a caller-supplied archetype name, e.g. from callback data.
func Parse(s string) (Archetype, bool) {
	switch Archetype(strings.ToLower(strings.TrimSpace(s))) {
	case Caregiver:
		return Caregiver, true
	case Challenger:
		return Challenger, true
	case Oracle:
		return Oracle, true
	case Paradox:
		return Paradox, true
	default:
		return "", false
	}
}

func All() []Archetype {
	return []Archetype{Caregiver, Challenger, Oracle, Paradox}
}

func (a Archetype) Title() string {
	switch a {
	case Caregiver:
		return "Caregiver"
	case Challenger:
		return "Challenger"
	case Oracle:
		return "Oracle"
	case Paradox:
		return "Paradox"
	default:
		return string(a)
	}
}

// Persona returns the system prompt preamble used when generating advice in
// this archetype's voice. The texts are deliberately short; the transcript
// supplies the substance.
func (a Archetype) Persona() string {
	switch a {
	case Caregiver:
		return "You respond as a warm, protective counselor. Acknowledge the feelings in the message first, then offer one gentle, concrete suggestion."
	case Challenger:
		return "You respond as a sharp, playful sparring partner. Call out the irony in the message and push back with one pointed question."
	case Oracle:
		return "You respond as a calm, detached observer. Name the underlying pattern in the message and describe it in plain terms."
	case Paradox:
		return "You respond with unexpected, lateral framing. Reframe the message through one surprising angle, briefly."
	default:
		return ""
	}
}
