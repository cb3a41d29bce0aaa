package chunk

import (
	"strings"
	"testing"
)

// TestS1FirstSyncTwoFileProject exercises spec scenario S1: a.py with one
// top-level function and b.md with one heading.
func TestS1FirstSyncTwoFileProject(t *testing.T) {
	pyText := strings.Join([]string{
		"import os",
		"",
		"def f(x):",
		"    return x + 1",
		"",
		"",
		"",
		"",
		"",
		"",
		"",
		"",
	}, "\n")

	bodies := Split(pyText, "python", DefaultOptions)
	if len(bodies) != 2 {
		t.Fatalf("expected 2 chunks for a.py, got %d: %+v", len(bodies), bodies)
	}

	var gotFunc, gotPlain bool
	for _, b := range bodies {
		switch {
		case b.SectionType == "function" && b.SectionName == "f":
			gotFunc = true
		case b.SectionType == "" && b.SectionName == "":
			gotPlain = true
		}
	}
	if !gotFunc {
		t.Error("expected a function/f chunk")
	}
	if !gotPlain {
		t.Error("expected an un-sectioned leading chunk")
	}

	mdText := "# Title\nline one\nline two\nline three"
	mdBodies := Split(mdText, "markdown", DefaultOptions)
	if len(mdBodies) != 1 {
		t.Fatalf("expected 1 chunk for b.md, got %d", len(mdBodies))
	}
	if mdBodies[0].SectionType != "section" || mdBodies[0].SectionName != "Title" {
		t.Errorf("expected section/Title, got %s/%s", mdBodies[0].SectionType, mdBodies[0].SectionName)
	}
	if mdBodies[0].StartLine != 1 || mdBodies[0].EndLine != 4 {
		t.Errorf("expected lines 1-4, got %d-%d", mdBodies[0].StartLine, mdBodies[0].EndLine)
	}
}

func TestStructuredRoundTripWithoutOverlapTrigger(t *testing.T) {
	text := "def a():\n    pass\n\ndef b():\n    pass\n"
	bodies := Split(strings.TrimRight(text, "\n"), "python", DefaultOptions)

	var rebuilt []string
	for _, b := range bodies {
		rebuilt = append(rebuilt, b.Text)
	}
	got := strings.Join(rebuilt, "\n")
	want := strings.TrimRight(text, "\n")
	if got != want {
		t.Fatalf("round trip mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestGenericSlidingWindowOverlap(t *testing.T) {
	var lines []string
	for i := 1; i <= 25; i++ {
		lines = append(lines, "line")
	}
	text := strings.Join(lines, "\n")

	opts := Options{MaxLines: 10, OverlapLines: 3}
	bodies := Split(text, "unknown", opts)

	if len(bodies) < 3 {
		t.Fatalf("expected multiple windows, got %d", len(bodies))
	}
	for i := 1; i < len(bodies); i++ {
		overlapStart := bodies[i].StartLine
		prevEnd := bodies[i-1].EndLine
		if overlapStart > prevEnd {
			t.Errorf("window %d does not overlap with previous: start=%d prevEnd=%d", i, overlapStart, prevEnd)
		}
	}
	if bodies[len(bodies)-1].EndLine != 25 {
		t.Errorf("expected final window to reach line 25, got %d", bodies[len(bodies)-1].EndLine)
	}
}

func TestStructuredMaxLinesSplitCarriesOverlap(t *testing.T) {
	var lines []string
	for i := 1; i <= 250; i++ {
		lines = append(lines, "x")
	}
	text := strings.Join(lines, "\n")

	bodies := Split(text, "python", DefaultOptions)
	if len(bodies) < 2 {
		t.Fatalf("expected a size-triggered split, got %d chunks", len(bodies))
	}
	if bodies[1].StartLine != bodies[0].EndLine-DefaultOptions.OverlapLines+1 {
		t.Errorf("expected overlap of %d lines, got start=%d prevEnd=%d",
			DefaultOptions.OverlapLines, bodies[1].StartLine, bodies[0].EndLine)
	}
}

func TestLanguageForPath(t *testing.T) {
	cases := map[string]string{
		"a.py":      "python",
		"b/c.tsx":   "typescriptreact",
		"d.md":      "markdown",
		"e.unknown": "unknown",
	}
	for path, want := range cases {
		if got := LanguageForPath(path); got != want {
			t.Errorf("LanguageForPath(%q) = %q, want %q", path, got, want)
		}
	}
}
