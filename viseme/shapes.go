package viseme

import (
	"sort"

	"github.com/BaSui01/visemeflow/types"
)

// MaxID 最大 viseme ID
const MaxID = 21

// idToShape viseme ID → rhubarb 口型字母。多个 ID 共用同一个字母。
var idToShape = [MaxID + 1]string{
	0:  "X",
	1:  "D",
	2:  "D",
	3:  "F",
	4:  "C",
	5:  "C",
	6:  "B",
	7:  "F",
	8:  "E",
	9:  "E",
	10: "F",
	11: "D",
	12: "C",
	13: "F",
	14: "C",
	15: "B",
	16: "F",
	17: "H",
	18: "G",
	19: "H",
	20: "H",
	21: "A",
}

// shapeToID 由 idToShape 反转得到，同一字母取最大的 ID。
var shapeToID = invert(idToShape)

func invert(table [MaxID + 1]string) map[string]int {
	m := make(map[string]int, 9)
	for id, shape := range table {
		m[shape] = id
	}
	return m
}

// ShapeToID translates a rhubarb mouth shape letter to its viseme ID.
// Symbols outside the fixed set yield an UNKNOWN_SHAPE_SYMBOL error.
func ShapeToID(shape string) (int, error) {
	id, ok := shapeToID[shape]
	if !ok {
		return 0, types.NewUnknownShapeError(shape)
	}
	return id, nil
}

// ShapeForID returns the mouth shape letter for a viseme ID.
func ShapeForID(id int) (string, bool) {
	if id < 0 || id > MaxID {
		return "", false
	}
	return idToShape[id], true
}

// Shapes returns the sorted set of known mouth shape letters.
func Shapes() []string {
	out := make([]string, 0, len(shapeToID))
	for s := range shapeToID {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
