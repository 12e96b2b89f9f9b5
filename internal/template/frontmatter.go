package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/sqlweave/internal/diag"
	"gopkg.in/yaml.v3"
)

// frontmatterPattern matches a leading /*--- ... ---*/ block.
var frontmatterPattern = regexp.MustCompile(`(?s)^\s*/\*---\s*\n(.*?)\s*---\*/`)

// frontmatterFields are the model config keys accepted in frontmatter.
// Custom keys go under "meta".
var frontmatterFields = map[string]bool{
	"name":         true,
	"description":  true,
	"materialized": true,
	"unique_key":   true,
	"owner":        true,
	"schema":       true,
	"database":     true,
	"alias":        true,
	"tags":         true,
	"enabled":      true,
	"meta":         true,
}

// Materializations lists the accepted values of the "materialized" key.
var Materializations = []string{"table", "view", "incremental", "ephemeral"}

// Frontmatter is the result of splitting a model file.
type Frontmatter struct {
	Config  map[string]any
	Body    string
	HasYAML bool
	// BodyStart is the position of Body[0] within the original file.
	BodyStart diag.Position
}

// ExtractFrontmatter splits a model file into its YAML config block and the
// template body. Unknown keys are rejected.
func ExtractFrontmatter(content, file string) (*Frontmatter, error) {
	fm := &Frontmatter{
		Body:      content,
		BodyStart: diag.Position{Line: 1, Column: 1},
	}

	loc := frontmatterPattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return fm, nil
	}

	block := diag.NewSpan(file, positionAt(content, loc[0]), positionAt(content, loc[1]))
	yamlContent := content[loc[2]:loc[3]]

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &raw); err != nil {
		return nil, NewParseErrorf(block, "invalid frontmatter YAML: %v", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !frontmatterFields[k] {
			return nil, NewParseErrorf(block, "unknown field %q in frontmatter, use \"meta\" field for custom fields", k)
		}
	}

	if m, ok := raw["materialized"]; ok {
		s, _ := m.(string)
		if !validMaterialization(s) {
			return nil, NewParseErrorf(block, "invalid materialized value: %v, must be one of: %s",
				m, strings.Join(Materializations, ", "))
		}
	}

	if raw == nil {
		raw = map[string]any{}
	}
	fm.Config = raw
	fm.HasYAML = true
	fm.Body = content[loc[1]:]
	fm.BodyStart = positionAt(content, loc[1])
	return fm, nil
}

func validMaterialization(s string) bool {
	for _, m := range Materializations {
		if m == s {
			return true
		}
	}
	return false
}

// positionAt computes the line/column of byte offset off in s.
func positionAt(s string, off int) diag.Position {
	pos := diag.Position{Offset: off, Line: 1, Column: 1}
	for _, r := range s[:off] {
		if r == '\n' {
			pos.Line++
			pos.Column = 1
		} else {
			pos.Column++
		}
	}
	return pos
}

func (f *Frontmatter) String() string {
	return fmt.Sprintf("frontmatter(%d keys, body at %s)", len(f.Config), f.BodyStart)
}
