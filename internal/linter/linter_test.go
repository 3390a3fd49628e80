package linter

import "testing"

func TestLintFlagsBannedPhrases(t *testing.T) {
	text := "She began to cry. He seemed to notice."
	result := Lint(text)
	if result.Stats.HardDefects < 2 {
		t.Errorf("expected at least 2 hard defects, got %d (%v)", result.Stats.HardDefects, result.Defects)
	}
}

func TestLintAllowsTheWayHome(t *testing.T) {
	text := "She walked the way home, tired but relieved to finally see the porch light."
	result := Lint(text)
	for _, d := range result.Defects {
		if d.Type == "the-way-connector" {
			t.Errorf("did not expect the-way-connector defect for excluded idiom, got %v", d)
		}
	}
}

func TestLintFlagsTheWayConnector(t *testing.T) {
	text := "The way she looked at him told him everything."
	result := Lint(text)
	found := false
	for _, d := range result.Defects {
		if d.Type == "the-way-connector" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the-way-connector defect, got %v", result.Defects)
	}
}

func TestLintFlagsDashes(t *testing.T) {
	text := "She paused—then spoke."
	result := Lint(text)
	found := false
	for _, d := range result.Defects {
		if d.Type == "dash" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected dash defect")
	}
}

func TestNormalizeDashesRemovesEmDash(t *testing.T) {
	text := "She paused—then spoke."
	normalized := NormalizeDashes(text)
	before := Lint(text)
	after := Lint(normalized)
	if after.Stats.HardDefects > before.Stats.HardDefects {
		t.Errorf("normalization should never increase hard defects: before=%d after=%d", before.Stats.HardDefects, after.Stats.HardDefects)
	}
	result := Lint(normalized)
	for _, d := range result.Defects {
		if d.Type == "dash" {
			t.Errorf("expected no dash defects after normalization")
		}
	}
}

func TestBudgetViolationOverLimit(t *testing.T) {
	text := "Finally she finally finally arrived."
	result := Lint(text)
	found := false
	for _, d := range result.Defects {
		if d.Type == "budget-finally" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected budget-finally defect for 3 uses (max 2), got %v", result.Defects)
	}
}

func TestNewHardDefectsDetectsRegression(t *testing.T) {
	before := Lint("A calm paragraph with no issues at all, just plain prose.")
	after := Lint("A calm paragraph where she began to worry about everything.")
	newDefects := NewHardDefects(before, after)
	if len(newDefects) == 0 {
		t.Error("expected at least one new hard defect introduced by the fix")
	}
}

func TestFourRequirementsTotalCountsWindows(t *testing.T) {
	text := "He thought about the years he'd lost. The smell of rain and the scent of woodsmoke filled the room."
	result := Lint(text)
	if result.Stats.FourRequirementsTotal == 0 {
		t.Errorf("expected at least one window to satisfy a Four Requirement")
	}
}
