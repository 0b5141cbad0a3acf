package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Template is the canonical reference text plus metadata for one known license.
// Identity is the Name; templates are never mutated after loading.
type Template struct {
	Key      string   `json:"key"`
	Name     string   `json:"name"`
	SPDXID   string   `json:"spdx_id"`
	Text     string   `json:"template"`
	Keywords []string `json:"keywords"`
}

// Load reads an ordered template catalog from a JSON array file. An empty
// path or a missing file selects the built-in catalog, so the service can
// start without external data. Declaration order is preserved because it
// breaks ranking ties downstream.
func Load(path string) ([]Template, error) {
	if strings.TrimSpace(path) == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Defaults(), nil
		}
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var catalog []Template
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("unmarshal templates: %w", err)
	}
	if err := Validate(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Validate checks catalog entries for missing fields and duplicate names.
// An empty catalog is allowed; classification over it yields Unknown results.
func Validate(catalog []Template) error {
	seen := make(map[string]struct{}, len(catalog))
	for i, tpl := range catalog {
		if strings.TrimSpace(tpl.Name) == "" {
			return fmt.Errorf("template %d: name is required", i)
		}
		if strings.TrimSpace(tpl.Text) == "" {
			return fmt.Errorf("template %q: canonical text is required", tpl.Name)
		}
		if _, ok := seen[tpl.Name]; ok {
			return fmt.Errorf("template %q: duplicate name", tpl.Name)
		}
		seen[tpl.Name] = struct{}{}
	}
	return nil
}

// Defaults returns the built-in catalog covering the most common licenses.
func Defaults() []Template {
	return []Template{
		{
			Key:      "MIT",
			Name:     "MIT License",
			SPDXID:   "MIT",
			Text:     "Permission is hereby granted, free of charge, to any person obtaining a copy of this software and associated documentation files",
			Keywords: []string{"MIT", "Permission is hereby granted", "free of charge"},
		},
		{
			Key:      "Apache-2.0",
			Name:     "Apache License 2.0",
			SPDXID:   "Apache-2.0",
			Text:     "Licensed under the Apache License, Version 2.0 (the \"License\"); you may not use this file except in compliance with the License",
			Keywords: []string{"Apache", "Apache License", "Version 2.0", "Licensed under the Apache License"},
		},
		{
			Key:      "GPL-2.0",
			Name:     "GNU General Public License v2.0",
			SPDXID:   "GPL-2.0",
			Text:     "This program is free software; you can redistribute it and/or modify it under the terms of the GNU General Public License",
			Keywords: []string{"GPL", "GNU General Public License", "Version 2", "This program is free software"},
		},
		{
			Key:      "GPL-3.0",
			Name:     "GNU General Public License v3.0",
			SPDXID:   "GPL-3.0",
			Text:     "This program is free software: you can redistribute it and/or modify it under the terms of the GNU General Public License as published by the Free Software Foundation",
			Keywords: []string{"GPL", "GNU General Public License", "Version 3", "This program is free software"},
		},
		{
			Key:      "BSD-3-Clause",
			Name:     "BSD 3-Clause License",
			SPDXID:   "BSD-3-Clause",
			Text:     "Redistribution and use in source and binary forms, with or without modification, are permitted provided that the following conditions are met",
			Keywords: []string{"BSD", "3-Clause", "Redistribution and use in source and binary forms"},
		},
		{
			Key:      "LGPL-2.1",
			Name:     "GNU Lesser General Public License v2.1",
			SPDXID:   "LGPL-2.1",
			Text:     "This library is free software; you can redistribute it and/or modify it under the terms of the GNU Lesser General Public License",
			Keywords: []string{"LGPL", "Lesser General Public License", "Version 2.1"},
		},
	}
}
