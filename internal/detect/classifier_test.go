package detect

import (
	"testing"

	"license-triage/backend/internal/templates"
)

func TestClassifyVerbatimLicense(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})

	result := classifier.Classify(Fragment{ID: "frag-1", RawText: mitText})

	if result.FragmentID != "frag-1" {
		t.Fatalf("expected fragment id frag-1 got %q", result.FragmentID)
	}
	if result.DetectedLicense != "MIT License" {
		t.Fatalf("expected MIT License got %q", result.DetectedLicense)
	}
	if result.SPDXID != "MIT" {
		t.Fatalf("expected spdx id MIT got %q", result.SPDXID)
	}
	if result.Confidence < DefaultThreshold {
		t.Fatalf("expected confidence >= %v got %v", DefaultThreshold, result.Confidence)
	}
	if result.IsAmbiguous {
		t.Fatal("verbatim license text should not be ambiguous")
	}
	if len(result.Matches) != len(templates.Defaults()) {
		t.Fatalf("expected %d matches got %d", len(templates.Defaults()), len(result.Matches))
	}
	if result.Confidence != result.Matches[0].CombinedScore {
		t.Fatalf("confidence %v should equal top combined score %v", result.Confidence, result.Matches[0].CombinedScore)
	}
}

func TestClassifyMatchesSortedDescending(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})
	result := classifier.Classify(Fragment{RawText: "This program is free software; you can redistribute it"})

	for i := 1; i < len(result.Matches); i++ {
		if result.Matches[i-1].CombinedScore < result.Matches[i].CombinedScore {
			t.Fatalf("matches not sorted: %v before %v", result.Matches[i-1].CombinedScore, result.Matches[i].CombinedScore)
		}
	}
}

func TestClassifyEmptyFragment(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})

	for _, text := range []string{"", "   \t\n  ", "!!! ..."} {
		result := classifier.Classify(Fragment{ID: "empty", RawText: text})
		if result.DetectedLicense != UnknownLicense {
			t.Fatalf("text %q: expected %s got %q", text, UnknownLicense, result.DetectedLicense)
		}
		if result.SPDXID != NoSPDXID {
			t.Fatalf("text %q: expected spdx %s got %q", text, NoSPDXID, result.SPDXID)
		}
		if result.Confidence != 0 {
			t.Fatalf("text %q: expected zero confidence got %v", text, result.Confidence)
		}
		if !result.IsAmbiguous {
			t.Fatalf("text %q: empty fragment should be flagged ambiguous", text)
		}
	}
}

func TestClassifyEmptyCatalog(t *testing.T) {
	classifier := NewClassifier(nil, Options{})
	result := classifier.Classify(Fragment{RawText: "Permission is hereby granted"})

	if result.DetectedLicense != UnknownLicense {
		t.Fatalf("expected %s got %q", UnknownLicense, result.DetectedLicense)
	}
	if len(result.Matches) != 0 {
		t.Fatalf("expected no matches got %d", len(result.Matches))
	}
}

func TestClassifyAmbiguityMargin(t *testing.T) {
	catalog := []templates.Template{
		{Name: "Foxtrot Variant", SPDXID: "FX-1", Text: "alpha bravo charlie delta echo foxtrot"},
		{Name: "Golf Variant", SPDXID: "GF-1", Text: "alpha bravo charlie delta echo golf"},
	}
	classifier := NewClassifier(catalog, Options{Threshold: 0.5, AmbiguityMargin: 0.15})

	result := classifier.Classify(Fragment{RawText: "alpha bravo charlie delta echo"})
	if result.DetectedLicense != "Golf Variant" {
		t.Fatalf("expected Golf Variant got %q", result.DetectedLicense)
	}
	if result.Confidence < 0.5 {
		t.Fatalf("top score should clear the threshold, got %v", result.Confidence)
	}
	if !result.IsAmbiguous {
		t.Fatal("near-tied templates should be flagged ambiguous")
	}

	// A tighter margin turns the same gap into a confident call.
	relaxed := classifier.WithOptions(Options{Threshold: 0.5, AmbiguityMargin: 0.01})
	result = relaxed.Classify(Fragment{RawText: "alpha bravo charlie delta echo"})
	if result.IsAmbiguous {
		t.Fatal("gap above margin should not be ambiguous")
	}
}

func TestClassifyBelowThreshold(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})
	result := classifier.Classify(Fragment{RawText: "GNU General Public License"})

	if result.DetectedLicense != "GNU General Public License v2.0" {
		t.Fatalf("expected GPL v2.0 as best partial match got %q", result.DetectedLicense)
	}
	if result.Confidence >= DefaultThreshold {
		t.Fatalf("bare license name should score below threshold, got %v", result.Confidence)
	}
	if !result.IsAmbiguous {
		t.Fatal("low-confidence detection should be flagged ambiguous")
	}
}

func TestWithOptionsSharesCatalog(t *testing.T) {
	base := NewClassifier(templates.Defaults(), Options{})
	strict := base.WithOptions(Options{Threshold: 0.99, AmbiguityMargin: 0.5})

	if base.TemplateCount() != strict.TemplateCount() {
		t.Fatalf("catalog size changed: %d vs %d", base.TemplateCount(), strict.TemplateCount())
	}

	if base.Classify(Fragment{RawText: mitText}).IsAmbiguous {
		t.Fatal("default options should accept verbatim text")
	}
	if !strict.Classify(Fragment{RawText: mitText}).IsAmbiguous {
		t.Fatal("0.99 threshold should flag the same text as ambiguous")
	}
}
