package catalog

import (
	"fmt"

	"github.com/leapstack-labs/sqlweave/internal/diag"
	"gopkg.in/yaml.v3"
)

// SourceTable is an external table declared in a sources file.
type SourceTable struct {
	Package    string
	Source     string
	Name       string
	Database   string
	Schema     string
	Identifier string
	Span       diag.Span
}

// ID is the graph node id of the table.
func (s *SourceTable) ID() string {
	return "source." + s.Package + "." + s.Source + "." + s.Name
}

type sourcesFile struct {
	Sources []sourceDecl `yaml:"sources"`
}

type sourceDecl struct {
	Name     string      `yaml:"name"`
	Database string      `yaml:"database"`
	Schema   string      `yaml:"schema"`
	Tables   []yaml.Node `yaml:"tables"`
}

type tableDecl struct {
	Name       string `yaml:"name"`
	Identifier string `yaml:"identifier"`
}

// parseSources extracts source tables from a config file. Files without a
// top-level "sources" key yield nothing.
func parseSources(f *File) ([]*SourceTable, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(f.Content), &root); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var doc sourcesFile
	if err := root.Content[0].Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid sources declaration: %w", err)
	}

	var out []*SourceTable
	for _, src := range doc.Sources {
		if src.Name == "" {
			return nil, fmt.Errorf("source without a name")
		}
		schema := src.Schema
		if schema == "" {
			schema = src.Name
		}

		for i := range src.Tables {
			node := &src.Tables[i]

			var t tableDecl
			if node.Kind == yaml.ScalarNode {
				t.Name = node.Value
			} else if err := node.Decode(&t); err != nil {
				return nil, fmt.Errorf("source %q table %d: %w", src.Name, i, err)
			}
			if t.Name == "" {
				return nil, fmt.Errorf("source %q table %d has no name", src.Name, i)
			}
			if t.Identifier == "" {
				t.Identifier = t.Name
			}

			pos := diag.Position{Line: node.Line, Column: node.Column}
			out = append(out, &SourceTable{
				Package:    f.Package,
				Source:     src.Name,
				Name:       t.Name,
				Database:   src.Database,
				Schema:     schema,
				Identifier: t.Identifier,
				Span:       diag.NewSpan(f.DisplayPath(), pos, pos),
			})
		}
	}
	return out, nil
}
