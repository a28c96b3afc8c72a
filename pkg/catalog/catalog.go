// Package catalog provides read-only access to relation metadata. Relations
// are loaded from YAML files; spreadsheet ingestion happens upstream of this
// system.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type classifies an attribute for join compatibility checks.
type Type string

const (
	TypeString    Type = "STRING"
	TypeInteger   Type = "INTEGER"
	TypeFloat     Type = "FLOAT"
	TypeNumeric   Type = "NUMERIC"
	TypeBoolean   Type = "BOOLEAN"
	TypeDate      Type = "DATE"
	TypeDateTime  Type = "DATETIME"
	TypeTimestamp Type = "TIMESTAMP"
	TypeUnknown   Type = "UNKNOWN"
)

// typeGroups are the families whose members can be joined against each other.
var typeGroups = [][]Type{
	{TypeInteger, TypeFloat, TypeNumeric},
	{TypeString},
	{TypeDate, TypeDateTime, TypeTimestamp},
}

// Compatible reports whether two attribute types can appear on opposite sides
// of a join condition.
func Compatible(a, b Type) bool {
	if a == b {
		return true
	}
	for _, group := range typeGroups {
		inA, inB := false, false
		for _, t := range group {
			if t == a {
				inA = true
			}
			if t == b {
				inB = true
			}
		}
		if inA && inB {
			return true
		}
	}
	return false
}

// Attribute describes a single column of a relation.
type Attribute struct {
	Name       string `yaml:"name" json:"name"`
	Alias      string `yaml:"alias,omitempty" json:"alias,omitempty"`
	Type       Type   `yaml:"type" json:"type"`
	PrimaryKey bool   `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
}

// Relation describes a single table.
type Relation struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Attributes  []Attribute `yaml:"attributes" json:"attributes"`
}

// Attribute returns the named attribute, or nil if absent.
func (r *Relation) Attribute(name string) *Attribute {
	for i := range r.Attributes {
		if strings.EqualFold(r.Attributes[i].Name, name) {
			return &r.Attributes[i]
		}
	}
	return nil
}

// Catalog is an immutable set of relations.
type Catalog struct {
	relations map[string]*Relation
	order     []string
}

// New builds a catalog from a list of relations.
func New(relations []Relation) (*Catalog, error) {
	c := &Catalog{relations: make(map[string]*Relation, len(relations))}
	for i := range relations {
		r := relations[i]
		if r.Name == "" {
			return nil, fmt.Errorf("relation %d has no name", i)
		}
		key := strings.ToLower(r.Name)
		if _, ok := c.relations[key]; ok {
			return nil, fmt.Errorf("duplicate relation %q", r.Name)
		}
		c.relations[key] = &r
		c.order = append(c.order, r.Name)
	}
	return c, nil
}

type catalogFile struct {
	Relations []Relation `yaml:"relations"`
}

// Load reads a catalog from a YAML file, or from every *.yaml/*.yml file in a
// directory.
func Load(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog path: %w", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog dir: %w", err)
		}
		for _, e := range entries {
			ext := filepath.Ext(e.Name())
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no catalog files found in %s", path)
	}

	var relations []Relation
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read catalog file %s: %w", f, err)
		}
		var parsed catalogFile
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parse catalog file %s: %w", f, err)
		}
		relations = append(relations, parsed.Relations...)
	}

	return New(relations)
}

// Relation returns the named relation, or nil if the catalog does not contain
// it. Lookup is case-insensitive.
func (c *Catalog) Relation(name string) *Relation {
	return c.relations[strings.ToLower(name)]
}

// Relations returns all relations in load order.
func (c *Catalog) Relations() []*Relation {
	out := make([]*Relation, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.relations[strings.ToLower(name)])
	}
	return out
}

// Names returns the relation names in load order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Describe renders the catalog as prompt-ready text.
func (c *Catalog) Describe() string {
	var sb strings.Builder
	for _, r := range c.Relations() {
		sb.WriteString("Table: " + r.Name + "\n")
		if r.Description != "" {
			sb.WriteString("Description: " + r.Description + "\n")
		}
		sb.WriteString("Columns:\n")
		for _, a := range r.Attributes {
			sb.WriteString(fmt.Sprintf("  - %s (%s)", a.Name, a.Type))
			if a.Alias != "" {
				sb.WriteString(" alias: " + a.Alias)
			}
			if a.PrimaryKey {
				sb.WriteString(" [primary key]")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// DescribePair renders just two relations, for pairwise inference prompts.
func (c *Catalog) DescribePair(a, b string) string {
	return c.DescribeRelations(a, b)
}

// DescribeRelations renders the named relations as prompt-ready text,
// skipping names the catalog does not contain.
func (c *Catalog) DescribeRelations(names ...string) string {
	var sb strings.Builder
	for _, name := range names {
		r := c.Relation(name)
		if r == nil {
			continue
		}
		sb.WriteString("Table: " + r.Name + "\n")
		for _, attr := range r.Attributes {
			sb.WriteString(fmt.Sprintf("  - %s (%s)", attr.Name, attr.Type))
			if attr.Alias != "" {
				sb.WriteString(" alias: " + attr.Alias)
			}
			if attr.PrimaryKey {
				sb.WriteString(" [primary key]")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
