package viseme

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/visemeflow/types"
)

func TestShapeToID(t *testing.T) {
	tests := []struct {
		shape string
		id    int
	}{
		{"X", 0},
		{"A", 21},
		{"B", 15},
		{"C", 14},
		{"D", 11},
		{"E", 9},
		{"F", 16},
		{"G", 18},
		{"H", 20},
	}
	for _, tt := range tests {
		t.Run(tt.shape, func(t *testing.T) {
			id, err := ShapeToID(tt.shape)
			require.NoError(t, err)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestShapeToID_Unknown(t *testing.T) {
	for _, s := range []string{"", "Z", "x", "AA", " "} {
		_, err := ShapeToID(s)
		require.Error(t, err, "symbol %q", s)
		assert.True(t, types.IsErrorCode(err, types.ErrUnknownShapeSymbol))
	}
}

func TestShapes_Bijective(t *testing.T) {
	shapes := Shapes()
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F", "G", "H", "X"}, shapes)

	seen := make(map[int]string)
	for _, s := range shapes {
		id, err := ShapeToID(s)
		require.NoError(t, err)
		if prev, dup := seen[id]; dup {
			t.Fatalf("shapes %q and %q share id %d", prev, s, id)
		}
		seen[id] = s

		back, ok := ShapeForID(id)
		require.True(t, ok)
		assert.Equal(t, s, back)
	}
}

func TestShapeForID_Range(t *testing.T) {
	for id := 0; id <= MaxID; id++ {
		s, ok := ShapeForID(id)
		assert.True(t, ok)
		assert.Contains(t, Shapes(), s)
	}
	_, ok := ShapeForID(-1)
	assert.False(t, ok)
	_, ok = ShapeForID(MaxID + 1)
	assert.False(t, ok)
}

// 同一符号总得到同一 ID；集合外符号一律报错
func TestProperty_TranslationIsPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	known := map[string]bool{}
	for _, s := range Shapes() {
		known[s] = true
	}

	properties.Property("known symbols translate deterministically", prop.ForAll(
		func(shape string) bool {
			a, errA := ShapeToID(shape)
			b, errB := ShapeToID(shape)
			return errA == nil && errB == nil && a == b
		},
		gen.OneConstOf("A", "B", "C", "D", "E", "F", "G", "H", "X"),
	))

	properties.Property("unknown symbols always fail", prop.ForAll(
		func(shape string) bool {
			if known[shape] {
				return true
			}
			_, err := ShapeToID(shape)
			return types.IsErrorCode(err, types.ErrUnknownShapeSymbol)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
