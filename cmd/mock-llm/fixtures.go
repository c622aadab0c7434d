package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// reply is one scripted answer for a model. A non-zero Status makes the
// server fail the request with that code instead of returning Content.
type reply struct {
	Content string
	Status  int
}

// fixtureFileRe matches "model.json", "model.txt", "model.3.json" and
// "model.2.status".
var fixtureFileRe = regexp.MustCompile(`^(.+?)(?:\.(\d+))?\.(json|txt|status)$`)

// loadFixtures reads dir and returns the reply sequence of every model.
//
// Numbered files come first in numeric order. The unnumbered file, if any,
// is appended last and repeats once the sequence is exhausted. A ".status"
// file holds an HTTP status code; ".json" and ".txt" files hold the
// assistant message verbatim.
func loadFixtures(dir string) (map[string][]reply, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}

	base := make(map[string]reply)
	numbered := make(map[string]map[int]reply)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := fixtureFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		r, err := parseReply(m[3], data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		model := m[1]
		if m[2] == "" {
			base[model] = r
			continue
		}
		idx, _ := strconv.Atoi(m[2])
		if numbered[model] == nil {
			numbered[model] = make(map[int]reply)
		}
		numbered[model][idx] = r
	}

	fixtures := make(map[string][]reply)
	for model, byIndex := range numbered {
		indices := make([]int, 0, len(byIndex))
		for idx := range byIndex {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			fixtures[model] = append(fixtures[model], byIndex[idx])
		}
	}
	for model, r := range base {
		fixtures[model] = append(fixtures[model], r)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}

func parseReply(ext string, data []byte) (reply, error) {
	if ext != "status" {
		return reply{Content: string(data)}, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || code < 400 || code > 599 {
		return reply{}, fmt.Errorf("status fixture must hold a 4xx or 5xx code, got %q", strings.TrimSpace(string(data)))
	}
	return reply{Status: code}, nil
}
