package gloprpc

import (
	"strconv"

	"github.com/glop/glop/internal/glopvalue"
)

// contentsToObject converts a generically-decoded JSON object (as
// produced by encoding/json into map[string]any) into a glopvalue.Object.
// glopvalue has no boolean kind (see its package doc), so a JSON bool
// is carried as the string "true"/"false", matching how glopparse
// treats a bare `true`/`false` literal in source text.
func contentsToObject(m map[string]any) glopvalue.Object {
	if m == nil {
		return glopvalue.NewObject()
	}
	out := glopvalue.NewObject()
	for k, v := range m {
		out[k] = anyToValue(v)
	}
	return out
}

func anyToValue(v any) glopvalue.Value {
	switch t := v.(type) {
	case string:
		return glopvalue.String(t)
	case bool:
		return glopvalue.String(strconv.FormatBool(t))
	case float64:
		return glopvalue.Int32(int32(t))
	case map[string]any:
		return glopvalue.FromObject(contentsToObject(t))
	case nil:
		return glopvalue.String("")
	default:
		return glopvalue.String("")
	}
}
