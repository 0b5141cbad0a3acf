package detect

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "MIT License", "mit license"},
		{"collapse whitespace", "free  of\t charge,\n\n to any person", "free of charge to any person"},
		{"strip punctuation", "and/or modify; it's \"quoted\" (really)", "andor modify its quoted really"},
		{"curly quotes", "“as is” and ‘simple’", "as is and simple"},
		{"compatibility forms", "ﬁle Ｎｏ．１", "file no1"},
		{"trim edges", "   padded   ", "padded"},
		{"accented letters kept", "Café Müller, Sürümü 2.0", "café müller sürümü 20"},
		{"non-latin scripts kept", "ライセンス条項 (許諾)", "ライセンス条項 許諾"},
		{"empty", "", ""},
		{"only punctuation", "!!! --- ...", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.input)
			if got != tc.expected {
				t.Fatalf("expected %q got %q", tc.expected, got)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Permission is hereby granted, free of charge.",
		"GNU  GENERAL\tPUBLIC LICENSE — Version 2",
		"already normalized text",
	}
	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("normalize not idempotent for %q: %q vs %q", input, once, twice)
		}
	}
}
