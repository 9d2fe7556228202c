package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LinkGroup is one tracked product: alternate URLs tried in order until one succeeds
type LinkGroup struct {
	Name string   `json:"name,omitempty"`
	URLs []string `json:"urls"`
}

// Label returns a printable identifier for the group
func (g LinkGroup) Label() string {
	if g.Name != "" {
		return g.Name
	}
	if len(g.URLs) > 0 {
		return g.URLs[0]
	}
	return "(empty group)"
}

// LoadLinkGroups reads link groups from a .txt or .json file.
// A missing file yields no groups.
func LoadLinkGroups(path string) ([]LinkGroup, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadLinksJSON(path)
	}
	return loadLinksText(path)
}

// loadLinksText parses one product per line with "|" separated fallbacks.
// Blank lines and lines starting with "#" are ignored.
func loadLinksText(path string) ([]LinkGroup, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var groups []LinkGroup
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var urls []string
		for _, part := range strings.Split(line, "|") {
			if u := strings.TrimSpace(part); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			groups = append(groups, LinkGroup{URLs: urls})
		}
	}

	return groups, scanner.Err()
}

// loadLinksJSON accepts either ["url", ...] or [{"name": ..., "urls": [...]}, ...]
func loadLinksJSON(path string) ([]LinkGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse links file %s: %w", path, err)
	}

	var groups []LinkGroup
	for i, item := range raw {
		var url string
		if err := json.Unmarshal(item, &url); err == nil {
			if url = strings.TrimSpace(url); url != "" {
				groups = append(groups, LinkGroup{URLs: []string{url}})
			}
			continue
		}

		var g LinkGroup
		if err := json.Unmarshal(item, &g); err != nil {
			return nil, fmt.Errorf("failed to parse links file %s entry %d: %w", path, i, err)
		}
		var urls []string
		for _, u := range g.URLs {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			groups = append(groups, LinkGroup{Name: g.Name, URLs: urls})
		}
	}

	return groups, nil
}
