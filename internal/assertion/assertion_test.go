package assertion

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text2mem/internal/engine"
	"text2mem/internal/ir"
	"text2mem/internal/store"
)

func TestCompile(t *testing.T) {
	spec := &Spec{
		Name: "has_proj",
		Select: SelectSpec{
			From:  "memory",
			Where: []string{"deleted=0", "tags LIKE :t"},
			Agg:   "count",
		},
		Expect: ExpectSpec{Op: ">=", Value: 1},
		Params: map[string]any{"t": `%"proj"%`},
	}

	query, args, err := Compile(spec)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) as actual FROM memory WHERE (deleted=0) AND (tags LIKE :t)", query)
	assert.Len(t, args, 1)
}

func TestCompileRejectsBadSpecs(t *testing.T) {
	_, _, err := Compile(&Spec{Name: "x", Select: SelectSpec{From: "memory; drop"}})
	assert.Error(t, err)

	_, _, err = Compile(&Spec{Name: "x", Select: SelectSpec{From: "memory", Agg: "sum"}})
	assert.Error(t, err)

	_, _, err = Compile(&Spec{
		Name:   "x",
		Select: SelectSpec{From: "memory", Where: []string{"tags LIKE :missing"}},
	})
	assert.Error(t, err)
}

// Seed a row through the engine, then evaluate the counting assertion the
// way the harness does.
func TestEvaluateAgainstEngineState(t *testing.T) {
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()
	e := engine.New(st, engine.Options{})

	var instr ir.IR
	raw := `{"stage":"ENC","op":"Encode","args":{"payload":{"text":"alpha project meeting notes"},"type":"note","tags":["proj"]}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &instr))
	res := e.Execute(context.Background(), &instr)
	require.True(t, res.Success, res.Error)

	spec := &Spec{
		Name: "has_proj",
		Select: SelectSpec{
			From:  "memory",
			Where: []string{"deleted=0", "tags LIKE :t"},
			Agg:   "count",
		},
		Expect: ExpectSpec{Op: ">=", Value: 1},
		Params: map[string]any{"t": `%"proj"%`},
	}

	out := Evaluate(context.Background(), st.DB(), spec)
	assert.True(t, out.Passed, out.Message)
	assert.Equal(t, float64(1), out.Actual)
}

func TestEvaluateFailureCarriesMessage(t *testing.T) {
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	spec := &Spec{
		Name:   "none_yet",
		Select: SelectSpec{From: "memory", Where: []string{"deleted=0"}},
		Expect: ExpectSpec{Op: ">=", Value: 1},
	}
	out := Evaluate(context.Background(), st.DB(), spec)
	assert.False(t, out.Passed)
	assert.NotEmpty(t, out.Message)
	assert.Equal(t, float64(0), out.Actual)
}

func TestCompareOperators(t *testing.T) {
	cases := []struct {
		actual   float64
		op       string
		expected float64
		want     bool
	}{
		{1, "==", 1, true}, {1, "=", 1, true}, {1, "!=", 2, true},
		{3, ">", 2, true}, {2, ">=", 2, true}, {1, "<", 2, true},
		{2, "<=", 2, true}, {1, ">", 2, false},
	}
	for _, c := range cases {
		got, err := compare(c.actual, c.op, c.expected)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%v %s %v", c.actual, c.op, c.expected)
	}

	_, err := compare(1, "~=", 1)
	assert.Error(t, err)
}
