package glopscript

import (
	"fmt"
	"sort"

	"github.com/glop/glop/internal/glopvalue"
)

// envSeparator joins nested path segments when a script action's
// environment is flattened ("k" for scalar variables,
// "t__path__to__field" for consumed message fields).
const envSeparator = "__"

// projectVars exports every top-level scalar (Int or Str) variable as
// k=<value>. Object-typed top-level variables are not exported — they
// are only reachable through the state server.
func projectVars(vars glopvalue.Object) []string {
	var out []string
	for k, v := range vars {
		switch v.Kind {
		case glopvalue.KindInt:
			out = append(out, fmt.Sprintf("%s=%d", k, v.Int))
		case glopvalue.KindStr:
			out = append(out, fmt.Sprintf("%s=%s", k, v.Str))
		}
	}
	sort.Strings(out)
	return out
}

// projectMsgs exports every scalar field of every consumed message,
// recursively, joined by "__" and prefixed by the message's topic.
func projectMsgs(msgs map[string]glopvalue.Object) []string {
	var out []string
	for topic, payload := range msgs {
		out = append(out, flattenObject(topic, payload)...)
	}
	sort.Strings(out)
	return out
}

func flattenObject(prefix string, o glopvalue.Object) []string {
	var out []string
	for k, v := range o {
		key := prefix + envSeparator + k
		switch v.Kind {
		case glopvalue.KindInt:
			out = append(out, fmt.Sprintf("%s=%d", key, v.Int))
		case glopvalue.KindStr:
			out = append(out, fmt.Sprintf("%s=%s", key, v.Str))
		case glopvalue.KindObject:
			out = append(out, flattenObject(key, v.Obj)...)
		}
	}
	return out
}
