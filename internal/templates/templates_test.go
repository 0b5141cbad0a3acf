package templates

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.json")} {
		catalog, err := Load(path)
		if err != nil {
			t.Fatalf("load %q: %v", path, err)
		}
		if len(catalog) == 0 {
			t.Fatalf("load %q: expected built-in catalog", path)
		}
		if catalog[0].Name != "MIT License" {
			t.Fatalf("expected MIT License first got %q", catalog[0].Name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	catalog := []Template{
		{Key: "X-1", Name: "First License", SPDXID: "X-1", Text: "first canonical text", Keywords: []string{"first"}},
		{Key: "X-2", Name: "Second License", SPDXID: "X-2", Text: "second canonical text"},
	}
	path := tempJSON(t, catalog)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 templates got %d", len(loaded))
	}
	// Declaration order must survive the round trip.
	if loaded[0].Name != "First License" || loaded[1].Name != "Second License" {
		t.Fatalf("order not preserved: %q, %q", loaded[0].Name, loaded[1].Name)
	}
	if loaded[0].Keywords[0] != "first" {
		t.Fatalf("expected keyword first got %q", loaded[0].Keywords[0])
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"not":"an array"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed catalog")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		catalog []Template
		wantErr bool
	}{
		{"empty catalog allowed", nil, false},
		{"valid", []Template{{Name: "A", Text: "text"}}, false},
		{"missing name", []Template{{Text: "text"}}, true},
		{"missing text", []Template{{Name: "A"}}, true},
		{"duplicate name", []Template{{Name: "A", Text: "x"}, {Name: "A", Text: "y"}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.catalog)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	catalog := Defaults()
	if err := Validate(catalog); err != nil {
		t.Fatalf("built-in catalog invalid: %v", err)
	}
	for _, tpl := range catalog {
		if tpl.SPDXID == "" {
			t.Fatalf("template %q missing spdx id", tpl.Name)
		}
		if len(tpl.Keywords) == 0 {
			t.Fatalf("template %q missing keywords", tpl.Name)
		}
	}
}

func tempJSON(t *testing.T, value any) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "templates-*.json")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return f.Name()
}
