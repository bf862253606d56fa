package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchema(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	names := []string{}
	for _, def := range reg.Definitions() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{
		"cve_id", "description", "date_public", "vendor", "product", "packageName",
		"baseScore", "baseSeverity", "attackVector", "attackComplexity",
	}, names)

	sev, ok := reg.Lookup("baseSeverity")
	require.True(t, ok)
	assert.Equal(t, "metrics.baseSeverity", sev.Path())
	assert.Empty(t, sev.WithinList())
	assert.Equal(t, 1, sev.Rank("none"))
	assert.Equal(t, 5, sev.Rank("Critical"))
	assert.Equal(t, 0, sev.Rank("urgent"))

	canon, ok := sev.Canonical("high")
	assert.True(t, ok)
	assert.Equal(t, "HIGH", canon)

	product, ok := reg.Lookup("product")
	require.True(t, ok)
	assert.Equal(t, "product", product.Path())
	assert.Equal(t, "affected_products", product.WithinList())
	assert.True(t, product.Accepts(OpSubstringSearch))
	assert.False(t, product.Accepts(OpSort))

	_, err = reg.Get("severity")
	assert.ErrorIs(t, err, ErrUnknownParameter)
}

func TestNewRejectsInconsistentDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{
			name: "range on plain string",
			def:  Definition{Name: "vendor", DataType: TypeString, AcceptedOperations: []Operation{OpFilterByRange}},
		},
		{
			name: "value filter on date",
			def:  Definition{Name: "date_public", DataType: TypeDateTime, AcceptedOperations: []Operation{OpFilterByValue}},
		},
		{
			name: "options without values",
			def:  Definition{Name: "sev", DataType: TypeStringOptions, AcceptedOperations: []Operation{OpSort}},
		},
		{
			name: "duplicate options",
			def: Definition{Name: "sev", DataType: TypeStringOptions, PossibleValues: []string{"LOW", "low"},
				AcceptedOperations: []Operation{OpSort}},
		},
		{
			name: "substring without value filter",
			def:  Definition{Name: "description", DataType: TypeString, AcceptedOperations: []Operation{OpSubstringSearch}},
		},
		{
			name: "sort under list parent",
			def: Definition{Name: "product", DataType: TypeString, AcceptedOperations: []Operation{OpSort},
				Nesting: &Nesting{Parent: "affected_products", Shape: ShapeList}},
		},
		{
			name: "unknown data type",
			def:  Definition{Name: "x", DataType: "blob", AcceptedOperations: []Operation{OpSort}},
		},
		{
			name: "bad identifier",
			def:  Definition{Name: "x.y", DataType: TypeString, AcceptedOperations: []Operation{OpSort}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New([]Definition{tc.def})
			assert.Error(t, err)
		})
	}
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	def := Definition{Name: "cve_id", DataType: TypeString, AcceptedOperations: []Operation{OpFilterByValue}}
	_, err := New([]Definition{def, def})
	assert.Error(t, err)
}

func TestRegistryIsolatedFromInput(t *testing.T) {
	defs := []Definition{{
		Name: "sev", DataType: TypeStringOptions, PossibleValues: []string{"LOW", "HIGH"},
		AcceptedOperations: []Operation{OpFilterByRange},
	}}
	reg, err := New(defs)
	require.NoError(t, err)

	defs[0].PossibleValues[0] = "CHANGED"
	def, _ := reg.Lookup("sev")
	assert.Equal(t, "LOW", def.PossibleValues[0])
}

func TestParse(t *testing.T) {
	reg, err := Parse([]byte(`
- parameter: score
  data_type: numeric
  accepted_operations: [filter-by-range]
  nested_in: {parent: metrics, shape: object}
`))
	require.NoError(t, err)
	def, ok := reg.Lookup("score")
	require.True(t, ok)
	assert.Equal(t, "metrics.score", def.Path())

	_, err = Parse([]byte("not: [a list"))
	assert.Error(t, err)
}
