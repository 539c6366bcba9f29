package render

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tonyazhuuki/tldr-buddy/analysis"
)

func resultset(entries map[string]analysis.ModeResult) analysis.Resultset {
	return analysis.Resultset{Results: entries}
}

func TestFormatBothModesPopulated(t *testing.T) {
	t.Parallel()

	rs := resultset(map[string]analysis.ModeResult{
		analysis.ModeSummary: {Text: `{"summary": "A quick hello.", "bullets": ["says hello", "to the world", "briefly"], "actions": ["reply"]}`},
		analysis.ModeTone:    {Text: "Friendly and relaxed."},
	})

	out := Formatter{}.Format(rs)
	if !strings.Contains(out, "A quick hello.") {
		t.Fatalf("missing summary: %q", out)
	}
	if !strings.Contains(out, "• says hello") {
		t.Fatalf("missing bullets: %q", out)
	}
	if !strings.Contains(out, "⚡ Next steps:") || !strings.Contains(out, "• reply") {
		t.Fatalf("missing actions: %q", out)
	}
	if !strings.Contains(out, "Friendly and relaxed.") {
		t.Fatalf("missing tone: %q", out)
	}
	if strings.Contains(out, "unavailable") {
		t.Fatalf("unexpected unavailable marker: %q", out)
	}
}

func TestFormatSectionOrder(t *testing.T) {
	t.Parallel()

	rs := resultset(map[string]analysis.ModeResult{
		analysis.ModeSummary: {Text: `{"summary": "S.", "bullets": ["B"], "actions": ["A"]}`},
		analysis.ModeTone:    {Text: "T."},
	})
	out := Formatter{}.Format(rs)

	iSummary := strings.Index(out, "S.")
	iBullet := strings.Index(out, "• B")
	iAction := strings.Index(out, "⚡")
	iTone := strings.Index(out, "🎭")
	if !(iSummary < iBullet && iBullet < iAction && iAction < iTone) {
		t.Fatalf("section order wrong: %q", out)
	}
}

func TestFormatUnavailableMarkers(t *testing.T) {
	t.Parallel()

	rs := resultset(map[string]analysis.ModeResult{
		analysis.ModeSummary: {Unavailable: true},
		analysis.ModeTone:    {Unavailable: true},
	})
	out := Formatter{}.Format(rs)
	if !strings.Contains(out, "Summary is unavailable") {
		t.Fatalf("missing summary marker: %q", out)
	}
	if !strings.Contains(out, "Tone analysis is unavailable") {
		t.Fatalf("missing tone marker: %q", out)
	}
}

func TestFormatOneOfTwoUnavailable(t *testing.T) {
	t.Parallel()

	rs := resultset(map[string]analysis.ModeResult{
		analysis.ModeSummary: {Text: `{"summary": "Still here.", "bullets": ["one"]}`},
		analysis.ModeTone:    {Unavailable: true},
	})
	out := Formatter{}.Format(rs)
	if !strings.Contains(out, "Still here.") {
		t.Fatalf("populated section missing: %q", out)
	}
	if !strings.Contains(out, "Tone analysis is unavailable") {
		t.Fatalf("marker for failed section missing: %q", out)
	}
}

func TestFormatPlainTextSummaryFallback(t *testing.T) {
	t.Parallel()

	rs := resultset(map[string]analysis.ModeResult{
		analysis.ModeSummary: {Text: "Just plain prose, no JSON."},
	})
	out := Formatter{}.Format(rs)
	if !strings.Contains(out, "Just plain prose, no JSON.") {
		t.Fatalf("fallback summary missing: %q", out)
	}
}

func TestRenderLengthCeiling(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 300)
	s := Sections{
		Summary: long,
		Bullets: []string{"alpha", "beta", "gamma"},
		Actions: []string{long},
		Tone:    long,
	}
	f := Formatter{MaxLen: 500}
	out := f.Render(s)
	if got := utf8.RuneCountInString(out); got > 500 {
		t.Fatalf("rendered length = %d, want <= 500", got)
	}
	// Tone and actions go first; bullets are kept the longest.
	if strings.Contains(out, "🎭") {
		t.Fatalf("tone survived truncation: %q", out)
	}
	if strings.Contains(out, "⚡") {
		t.Fatalf("actions survived truncation: %q", out)
	}
	if !strings.Contains(out, "• alpha") {
		t.Fatalf("bullets dropped too early: %q", out)
	}
}

func TestRenderDropsToneBeforeActions(t *testing.T) {
	t.Parallel()

	s := Sections{
		Summary: "Short summary.",
		Bullets: []string{"one", "two", "three"},
		Actions: []string{"do the thing"},
		Tone:    strings.Repeat("very long tone ", 50),
	}
	// Enough room for everything except the oversized tone.
	f := Formatter{MaxLen: 200}
	out := f.Render(s)
	if strings.Contains(out, "🎭") {
		t.Fatalf("tone should be dropped first: %q", out)
	}
	if !strings.Contains(out, "⚡") {
		t.Fatalf("actions should survive when dropping tone suffices: %q", out)
	}
	if !strings.Contains(out, "Short summary.") {
		t.Fatalf("summary should survive: %q", out)
	}
}

func TestRenderMaxBullets(t *testing.T) {
	t.Parallel()

	rs := resultset(map[string]analysis.ModeResult{
		analysis.ModeSummary: {Text: `{"summary": "S", "bullets": ["1","2","3","4","5","6","7"]}`},
	})
	out := Formatter{}.Format(rs)
	if strings.Count(out, "• ") != 5 {
		t.Fatalf("bullet count = %d, want capped at 5: %q", strings.Count(out, "• "), out)
	}
}

func TestRenderDeterministic(t *testing.T) {
	t.Parallel()

	rs := resultset(map[string]analysis.ModeResult{
		analysis.ModeSummary: {Text: `{"summary": "Same.", "bullets": ["a", "b"]}`},
		analysis.ModeTone:    {Text: "Even."},
	})
	first := Formatter{}.Format(rs)
	for i := 0; i < 20; i++ {
		if got := (Formatter{}).Format(rs); got != first {
			t.Fatalf("Format() not deterministic:\n%q\n%q", first, got)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	if got := truncateRunes("héllo wörld", 5); utf8.RuneCountInString(got) != 5 {
		t.Fatalf("truncateRunes() = %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Fatalf("truncateRunes() modified short input: %q", got)
	}
}
