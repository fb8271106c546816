package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StyleRule tags replies whose inbound text contains Keyword with a
// Sendblue send_style.
type StyleRule struct {
	Keyword string `yaml:"keyword"`
	Style   string `yaml:"style"`
}

// StyleTable is evaluated top to bottom; the first case-insensitive
// substring match wins.
type StyleTable []StyleRule

// DefaultStyles is used when no styles file is configured.
func DefaultStyles() StyleTable {
	return StyleTable{
		{Keyword: "happy new year", Style: "fireworks"},
		{Keyword: "birthday", Style: "balloons"},
		{Keyword: "congrat", Style: "confetti"},
		{Keyword: "celebrat", Style: "celebration"},
		{Keyword: "love", Style: "love"},
		{Keyword: "party", Style: "lasers"},
		{Keyword: "wish", Style: "shooting_star"},
		{Keyword: "look at", Style: "spotlight"},
		{Keyword: "repeat", Style: "echo"},
		{Keyword: "secret", Style: "invisible"},
		{Keyword: "whisper", Style: "gentle"},
		{Keyword: "urgent", Style: "loud"},
		{Keyword: "!!!", Style: "slam"},
	}
}

// Match returns the style for text, or "" when no rule applies.
func (t StyleTable) Match(text string) string {
	lower := strings.ToLower(text)
	for _, r := range t {
		if r.Keyword != "" && strings.Contains(lower, strings.ToLower(r.Keyword)) {
			return r.Style
		}
	}
	return ""
}

// LoadStyles reads a YAML list of {keyword, style} entries.
func LoadStyles(path string) (StyleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read styles: %w", err)
	}

	var table StyleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse styles %s: %w", path, err)
	}
	for i, r := range table {
		if strings.TrimSpace(r.Keyword) == "" || strings.TrimSpace(r.Style) == "" {
			return nil, fmt.Errorf("styles %s: entry %d needs keyword and style", path, i)
		}
	}
	return table, nil
}
