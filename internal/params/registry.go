// Package params holds the parameter schema registry shared by the validator,
// the query compiler and the natural-language prompt builder.
package params

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

// DataType determines which operations and value shapes a parameter accepts.
type DataType string

// Supported data types.
const (
	TypeString        DataType = "string"
	TypeStringOptions DataType = "string-options"
	TypeNumeric       DataType = "numeric"
	TypeDateTime      DataType = "date-time"
)

// Operation is an operation a parameter may accept.
type Operation string

// Supported operations.
const (
	OpFilterByValue   Operation = "filter-by-value"
	OpFilterByRange   Operation = "filter-by-range"
	OpSort            Operation = "sort"
	OpSubstringSearch Operation = "substring-search"
)

// Shape is the shape of a nesting parent.
type Shape string

// Parent shapes.
const (
	ShapeList   Shape = "list"
	ShapeObject Shape = "object"
)

// ErrUnknownParameter is returned by Get for names outside the registry.
var ErrUnknownParameter = errors.New("unknown parameter")

// allowedOps is the fixed, total mapping from data type to legal operations.
var allowedOps = map[DataType][]Operation{
	TypeString:        {OpFilterByValue, OpSort, OpSubstringSearch},
	TypeStringOptions: {OpFilterByValue, OpFilterByRange, OpSort},
	TypeNumeric:       {OpFilterByValue, OpFilterByRange, OpSort},
	TypeDateTime:      {OpFilterByRange, OpSort},
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Nesting places a parameter inside a parent field.
type Nesting struct {
	Parent string `yaml:"parent" json:"parent"`
	Shape  Shape  `yaml:"shape" json:"shape"`
}

// Definition describes one searchable attribute.
type Definition struct {
	Name               string      `yaml:"parameter" json:"parameter"`
	DataType           DataType    `yaml:"data_type" json:"data_type"`
	PossibleValues     []string    `yaml:"possible_values,omitempty" json:"possible_values,omitempty"`
	AcceptedOperations []Operation `yaml:"accepted_operations" json:"accepted_operations"`
	Nesting            *Nesting    `yaml:"nested_in,omitempty" json:"nested_in,omitempty"`
	Example            string      `yaml:"example,omitempty" json:"example,omitempty"`
	Description        string      `yaml:"description,omitempty" json:"description,omitempty"`
}

// Accepts reports whether op is in the parameter's accepted operations.
func (d Definition) Accepts(op Operation) bool {
	for _, o := range d.AcceptedOperations {
		if o == op {
			return true
		}
	}
	return false
}

// Rank returns the 1-based ordinal position of value in PossibleValues,
// matched case-insensitively, or 0 when the value is not an option.
func (d Definition) Rank(value string) int {
	for i, v := range d.PossibleValues {
		if strings.EqualFold(v, value) {
			return i + 1
		}
	}
	return 0
}

// Canonical returns the declared spelling of an option.
func (d Definition) Canonical(value string) (string, bool) {
	if r := d.Rank(value); r > 0 {
		return d.PossibleValues[r-1], true
	}
	return "", false
}

// Path is the dotted storage path for the parameter. List-nested parameters
// return only the leaf name, since they are matched per element of the parent.
func (d Definition) Path() string {
	if d.Nesting != nil && d.Nesting.Shape == ShapeObject {
		return d.Nesting.Parent + "." + d.Name
	}
	return d.Name
}

// WithinList returns the list-shaped parent of the parameter, if any.
func (d Definition) WithinList() string {
	if d.Nesting != nil && d.Nesting.Shape == ShapeList {
		return d.Nesting.Parent
	}
	return ""
}

// Registry is the immutable, ordered parameter schema.
type Registry struct {
	defs   []Definition
	byName map[string]int
}

// New validates defs and builds a registry. The input slice is copied.
func New(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:   make([]Definition, 0, len(defs)),
		byName: make(map[string]int, len(defs)),
	}

	for _, def := range defs {
		if err := check(def); err != nil {
			return nil, err
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("parameter %q defined twice", def.Name)
		}

		cp := def
		cp.PossibleValues = append([]string(nil), def.PossibleValues...)
		cp.AcceptedOperations = append([]Operation(nil), def.AcceptedOperations...)
		if def.Nesting != nil {
			n := *def.Nesting
			cp.Nesting = &n
		}

		r.byName[cp.Name] = len(r.defs)
		r.defs = append(r.defs, cp)
	}

	return r, nil
}

func check(def Definition) error {
	if !identifier.MatchString(def.Name) {
		return fmt.Errorf("invalid parameter name %q", def.Name)
	}

	legal, ok := allowedOps[def.DataType]
	if !ok {
		return fmt.Errorf("parameter %s: unknown data type %q", def.Name, def.DataType)
	}
	if len(def.AcceptedOperations) == 0 {
		return fmt.Errorf("parameter %s: no accepted operations", def.Name)
	}
	for _, op := range def.AcceptedOperations {
		found := false
		for _, l := range legal {
			if op == l {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("parameter %s: operation %q not allowed for %s", def.Name, op, def.DataType)
		}
	}
	if def.Accepts(OpSubstringSearch) && !def.Accepts(OpFilterByValue) {
		return fmt.Errorf("parameter %s: substring-search requires filter-by-value", def.Name)
	}

	if def.DataType == TypeStringOptions {
		if len(def.PossibleValues) == 0 {
			return fmt.Errorf("parameter %s: string-options without possible_values", def.Name)
		}
		seen := make(map[string]bool, len(def.PossibleValues))
		for _, v := range def.PossibleValues {
			k := strings.ToLower(v)
			if seen[k] {
				return fmt.Errorf("parameter %s: duplicate option %q", def.Name, v)
			}
			seen[k] = true
		}
	} else if len(def.PossibleValues) > 0 {
		return fmt.Errorf("parameter %s: possible_values only apply to string-options", def.Name)
	}

	if n := def.Nesting; n != nil {
		if !identifier.MatchString(n.Parent) {
			return fmt.Errorf("parameter %s: invalid parent %q", def.Name, n.Parent)
		}
		if n.Shape != ShapeList && n.Shape != ShapeObject {
			return fmt.Errorf("parameter %s: unknown parent shape %q", def.Name, n.Shape)
		}
		if n.Shape == ShapeList && def.Accepts(OpSort) {
			return fmt.Errorf("parameter %s: list-nested parameters cannot be sorted", def.Name)
		}
	}

	return nil
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Get is Lookup returning ErrUnknownParameter for missing names.
func (r *Registry) Get(name string) (Definition, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	return def, nil
}

// Definitions returns the definitions in declaration order.
func (r *Registry) Definitions() []Definition {
	return append([]Definition(nil), r.defs...)
}

// Len returns the number of parameters.
func (r *Registry) Len() int { return len(r.defs) }

// Parse builds a registry from a YAML list of definitions.
func Parse(data []byte) (*Registry, error) {
	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse parameter schema: %w", err)
	}
	return New(defs)
}

// Load reads a YAML schema file. An empty path selects the built-in schema.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter schema: %w", err)
	}
	return Parse(data)
}

//go:embed parameters.yaml
var defaultSchema []byte

// Default returns the built-in schema.
func Default() (*Registry, error) {
	return Parse(defaultSchema)
}
