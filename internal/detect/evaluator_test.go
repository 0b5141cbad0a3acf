package detect

import (
	"math"
	"testing"

	"license-triage/backend/internal/templates"
)

const mitText = "Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files"

func TestClassifyAllPreservesOrder(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})

	fragments := []Fragment{
		{ID: "a", RawText: mitText},
		{ID: "b", RawText: ""},
		{ID: "c", RawText: "This program is free software; you can redistribute it and/or modify it under the terms of the GNU General Public License"},
		{ID: "d", RawText: "Redistribution and use in source and binary forms, with or without modification, are permitted provided that the following conditions are met"},
	}

	results := classifier.ClassifyAll(fragments)
	if len(results) != len(fragments) {
		t.Fatalf("expected %d results got %d", len(fragments), len(results))
	}
	for i, fragment := range fragments {
		if results[i].FragmentID != fragment.ID {
			t.Fatalf("result %d: expected id %q got %q", i, fragment.ID, results[i].FragmentID)
		}
	}
	if results[0].DetectedLicense != "MIT License" {
		t.Fatalf("expected MIT License got %q", results[0].DetectedLicense)
	}
	if results[1].DetectedLicense != UnknownLicense {
		t.Fatalf("expected %s got %q", UnknownLicense, results[1].DetectedLicense)
	}
}

func TestClassifyAllEmpty(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})
	if results := classifier.ClassifyAll(nil); len(results) != 0 {
		t.Fatalf("expected no results got %d", len(results))
	}
}

func TestEvaluateEmptySamples(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})
	metrics := classifier.Evaluate(nil)

	if metrics.TotalSamples != 0 || metrics.Correct != 0 {
		t.Fatalf("expected zero counts got %+v", metrics)
	}
	if metrics.Accuracy != 0 || metrics.Precision != 0 || metrics.Recall != 0 || metrics.F1Score != 0 {
		t.Fatalf("expected zero rates got %+v", metrics)
	}
}

func TestEvaluateConfusionCounts(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})

	samples := []Sample{
		// Correct specific claim.
		{Fragment: Fragment{ID: "tp", RawText: mitText}, ExpectedLicense: "MIT License"},
		// Wrong specific claim on a labeled sample: counts against both sides.
		{Fragment: Fragment{ID: "fpfn", RawText: mitText}, ExpectedLicense: "Apache License 2.0"},
		// No license present and none detected.
		{Fragment: Fragment{ID: "tn", RawText: ""}, ExpectedLicense: ""},
	}

	metrics := classifier.Evaluate(samples)

	if metrics.TotalSamples != 3 {
		t.Fatalf("expected 3 samples got %d", metrics.TotalSamples)
	}
	if metrics.Correct != 2 {
		t.Fatalf("expected 2 correct got %d", metrics.Correct)
	}
	if metrics.TruePositives != 1 {
		t.Fatalf("expected 1 TP got %d", metrics.TruePositives)
	}
	if metrics.FalsePositives != 1 {
		t.Fatalf("expected 1 FP got %d", metrics.FalsePositives)
	}
	if metrics.FalseNegatives != 1 {
		t.Fatalf("expected 1 FN got %d", metrics.FalseNegatives)
	}

	const tolerance = 1e-9
	if math.Abs(metrics.Accuracy-2.0/3.0) > tolerance {
		t.Fatalf("expected accuracy 2/3 got %v", metrics.Accuracy)
	}
	if math.Abs(metrics.Precision-0.5) > tolerance {
		t.Fatalf("expected precision 0.5 got %v", metrics.Precision)
	}
	if math.Abs(metrics.Recall-0.5) > tolerance {
		t.Fatalf("expected recall 0.5 got %v", metrics.Recall)
	}
	if math.Abs(metrics.F1Score-0.5) > tolerance {
		t.Fatalf("expected f1 0.5 got %v", metrics.F1Score)
	}
}

func TestEvaluateNoLicenseAliases(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})

	for _, expected := range []string{"", "Unknown", "unknown", "none", "NONE"} {
		metrics := classifier.Evaluate([]Sample{
			{Fragment: Fragment{RawText: ""}, ExpectedLicense: expected},
		})
		if metrics.Correct != 1 {
			t.Fatalf("expected label %q to count as no-license, got %+v", expected, metrics)
		}
		if metrics.TruePositives != 0 || metrics.FalsePositives != 0 || metrics.FalseNegatives != 0 {
			t.Fatalf("expected label %q to produce no confusion counts, got %+v", expected, metrics)
		}
	}
}

func TestEvaluateMissedLicense(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})

	// Empty text yields Unknown, so a labeled sample becomes a miss.
	metrics := classifier.Evaluate([]Sample{
		{Fragment: Fragment{RawText: ""}, ExpectedLicense: "MIT License"},
	})
	if metrics.FalseNegatives != 1 {
		t.Fatalf("expected 1 FN got %+v", metrics)
	}
	if metrics.FalsePositives != 0 || metrics.TruePositives != 0 {
		t.Fatalf("expected no positive claims, got %+v", metrics)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})

	samples := []Sample{
		{Fragment: Fragment{ID: "1", RawText: mitText}, ExpectedLicense: "MIT License"},
		{Fragment: Fragment{ID: "2", RawText: "This program is free software"}, ExpectedLicense: "GNU General Public License v2.0"},
		{Fragment: Fragment{ID: "3", RawText: ""}, ExpectedLicense: ""},
	}

	first := classifier.Evaluate(samples)
	second := classifier.Evaluate(samples)
	if first != second {
		t.Fatalf("metrics drifted between runs: %+v vs %+v", first, second)
	}
}

func TestEvaluateCaseInsensitiveLabels(t *testing.T) {
	classifier := NewClassifier(templates.Defaults(), Options{})

	metrics := classifier.Evaluate([]Sample{
		{Fragment: Fragment{RawText: mitText}, ExpectedLicense: "mit license"},
	})
	if metrics.TruePositives != 1 || metrics.Correct != 1 {
		t.Fatalf("expected case-insensitive label match, got %+v", metrics)
	}
}
