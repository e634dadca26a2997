package condition

import (
	"testing"

	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	answers := domain.Answers{
		"child": map[string]any{"first_name": "Ada", "multiple": false, "count": 1.0},
		"when":  "no_date",
		"score": 3,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"child.multiple == false", true},
		{"child.multiple != false", false},
		{"!child.multiple", true},
		{"child.multiple", false},
		{"child.first_name == 'Ada'", true},
		{`child.first_name == "Grace"`, false},
		{"child.count == 1", true},
		{"score == 3", true},
		{"score != 3", false},
		{"when == no_date", true},
		{"when == 'this_term' || when == 'no_date'", true},
		{"when == 'no_date' && child.multiple", false},
		{"missing.path == null", true},
		{"missing.path", false},
		{"child.first_name.deeper == null", true},
		{"when == 'a||b'", false},
		{"when != 'no_date && x'", true},
		{`when == "x==y" || when == 'no_date'`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr, answers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	for _, expr := range []string{"", "   ", "== true", "a..b == 1", "a && ", "'quoted' == 1"} {
		_, err := Compile(expr)
		assert.Error(t, err, "expected error for %q", expr)
	}
}

func TestCompile_QuotedOperators(t *testing.T) {
	p, err := Compile("when == 'a||b' && note != 'x && y'")
	require.NoError(t, err)
	assert.True(t, p(domain.Answers{"when": "a||b", "note": "z"}))
	assert.False(t, p(domain.Answers{"when": "a", "note": "z"}))
	assert.False(t, p(domain.Answers{"when": "a||b", "note": "x && y"}))
}
