package render

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/tonyazhuuki/tldr-buddy/analysis"
)

// DefaultMaxLen is the messaging platform's hard message size limit.
const DefaultMaxLen = 4096

const maxBullets = 5

// Sections is the structured reply before rendering.
type Sections struct {
	Summary string
	Bullets []string
	Actions []string
	Tone    string

	// SummaryUnavailable and ToneUnavailable mark sections whose mode
	// produced no result; they render as explicit short notes.
	SummaryUnavailable bool
	ToneUnavailable    bool
}

type Formatter struct {
	// MaxLen bounds the rendered message. Zero means DefaultMaxLen.
	MaxLen int
}

// Format renders the merged analysis results into the fixed-template reply.
func (f Formatter) Format(rs analysis.Resultset) string {
	return f.Render(SectionsFromResults(rs))
}

// SectionsFromResults extracts the reply sections from the mode results. The
// summary mode is expected to return JSON {summary, bullets, actions}; the
// tone mode returns plain text.
func SectionsFromResults(rs analysis.Resultset) Sections {
	var s Sections

	if res, ok := rs.Get(analysis.ModeSummary); ok {
		if res.Unavailable {
			s.SummaryUnavailable = true
		} else {
			s.Summary, s.Bullets, s.Actions = parseSummary(res.Text)
			if s.Summary == "" && len(s.Bullets) == 0 {
				s.SummaryUnavailable = true
			}
		}
	}

	if res, ok := rs.Get(analysis.ModeTone); ok {
		if res.Unavailable {
			s.ToneUnavailable = true
		} else {
			s.Tone = strings.TrimSpace(res.Text)
		}
	}

	if len(s.Bullets) > maxBullets {
		s.Bullets = s.Bullets[:maxBullets]
	}
	return s
}

// Render assembles the sections in fixed order and enforces the length
// ceiling. When over, tone is dropped first, then actions, then the
// summary is cut; bullets are kept the longest.
func (f Formatter) Render(s Sections) string {
	maxLen := f.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	out := renderSections(s)
	if utf8.RuneCountInString(out) <= maxLen {
		return out
	}

	s.Tone = ""
	s.ToneUnavailable = false
	out = renderSections(s)
	if utf8.RuneCountInString(out) <= maxLen {
		return out
	}

	s.Actions = nil
	out = renderSections(s)
	if utf8.RuneCountInString(out) <= maxLen {
		return out
	}

	overflow := utf8.RuneCountInString(out) - maxLen
	if sumLen := utf8.RuneCountInString(s.Summary); sumLen > 0 {
		keep := sumLen - overflow - 1
		if keep < 0 {
			keep = 0
		}
		s.Summary = truncateRunes(s.Summary, keep)
		out = renderSections(s)
		if utf8.RuneCountInString(out) <= maxLen {
			return out
		}
	}

	for len(s.Bullets) > 0 && utf8.RuneCountInString(out) > maxLen {
		s.Bullets = s.Bullets[:len(s.Bullets)-1]
		out = renderSections(s)
	}
	return truncateRunes(out, maxLen)
}

func renderSections(s Sections) string {
	var b strings.Builder

	switch {
	case s.SummaryUnavailable:
		b.WriteString("📝 Summary is unavailable right now.")
	case s.Summary != "":
		b.WriteString("📝 ")
		b.WriteString(s.Summary)
	}

	if len(s.Bullets) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		for i, bullet := range s.Bullets {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("• ")
			b.WriteString(bullet)
		}
	}

	if len(s.Actions) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("⚡ Next steps:")
		for _, action := range s.Actions {
			b.WriteString("\n• ")
			b.WriteString(action)
		}
	}

	switch {
	case s.ToneUnavailable:
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("🎭 Tone analysis is unavailable right now.")
	case s.Tone != "":
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("🎭 ")
		b.WriteString(s.Tone)
	}

	return b.String()
}

func parseSummary(completion string) (summary string, bullets, actions []string) {
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end <= start {
		// Plain text fallback: the whole completion becomes the summary.
		return strings.TrimSpace(completion), nil, nil
	}

	var payload struct {
		Summary string   `json:"summary"`
		Bullets []string `json:"bullets"`
		Actions []string `json:"actions"`
	}
	if err := json.Unmarshal([]byte(completion[start:end+1]), &payload); err != nil {
		return strings.TrimSpace(completion), nil, nil
	}

	summary = strings.TrimSpace(payload.Summary)
	for _, b := range payload.Bullets {
		if b = strings.TrimSpace(b); b != "" {
			bullets = append(bullets, b)
		}
	}
	for _, a := range payload.Actions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	return summary, bullets, actions
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
