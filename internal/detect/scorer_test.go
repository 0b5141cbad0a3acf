package detect

import (
	"math"
	"testing"

	"license-triage/backend/internal/templates"
)

const scoreTolerance = 1e-9

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{"both empty", "", "", 1},
		{"left empty", "", "some text", 0},
		{"right empty", "some text", "", 0},
		{"identical", "permission is hereby granted", "permission is hereby granted", 1},
		{"disjoint", "aaaa", "zzzz", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Similarity(tc.a, tc.b)
			if math.Abs(got-tc.expected) > scoreTolerance {
				t.Fatalf("expected %v got %v", tc.expected, got)
			}
		})
	}
}

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"free of charge", "free of charge to any person"},
		{"gnu general public license", "gnu lesser general public license"},
		{"redistribution and use", "licensed under the apache license"},
	}
	for _, pair := range pairs {
		got := Similarity(pair[0], pair[1])
		if got < 0 || got > 1 {
			t.Fatalf("similarity out of range for %q vs %q: %v", pair[0], pair[1], got)
		}
	}
}

func TestSimilarityDeterministic(t *testing.T) {
	a := "this program is free software you can redistribute it"
	b := "this library is free software you can redistribute it and modify it"
	first := Similarity(a, b)
	for i := 0; i < 5; i++ {
		if got := Similarity(a, b); got != first {
			t.Fatalf("similarity drifted between runs: %v vs %v", first, got)
		}
	}
}

func TestKeywordCoverage(t *testing.T) {
	fragment := Normalize("Permission is hereby granted, free of charge, under Version 2.0")

	tests := []struct {
		name     string
		keywords []string
		expected float64
	}{
		{"empty list scores zero", nil, 0},
		{"all present", []string{"free of charge", "Permission is hereby granted"}, 1},
		{"half present", []string{"free of charge", "GNU General Public License"}, 0.5},
		{"punctuation in keyword", []string{"Version 2.0"}, 1},
		{"none present", []string{"Apache License"}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := KeywordCoverage(fragment, tc.keywords)
			if math.Abs(got-tc.expected) > scoreTolerance {
				t.Fatalf("expected %v got %v", tc.expected, got)
			}
		})
	}
}

func TestScoreAndCombined(t *testing.T) {
	tpl := templates.Template{
		Name:     "MIT License",
		Text:     "Permission is hereby granted, free of charge",
		Keywords: []string{"free of charge", "missing keyword"},
	}
	fragment := Normalize(tpl.Text)

	similarity, keyword := Score(fragment, tpl)
	if math.Abs(similarity-1) > scoreTolerance {
		t.Fatalf("expected similarity 1 got %v", similarity)
	}
	if math.Abs(keyword-0.5) > scoreTolerance {
		t.Fatalf("expected keyword 0.5 got %v", keyword)
	}

	combined := Combined(similarity, keyword)
	expected := SimilarityWeight + KeywordWeight*0.5
	if math.Abs(combined-expected) > scoreTolerance {
		t.Fatalf("expected combined %v got %v", expected, combined)
	}
	if combined < 0 || combined > 1 {
		t.Fatalf("combined out of range: %v", combined)
	}
}
