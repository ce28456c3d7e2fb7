package eventlog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// celFilter wraps a compiled CEL program evaluated against stored events.
// When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("stream", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("version", cel.IntType),
		cel.Variable("position", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		// Parsed JSON payload (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval returns false on evaluation errors or non-boolean results.
func (f celFilter) Eval(ev StoredEvent) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(ev.Data.Payload, &jsonObj)
	md := ev.Data.Metadata
	if md == nil {
		md = map[string]string{}
	}
	out, _, err := f.prog.Eval(map[string]any{
		"stream":   ev.Stream,
		"type":     ev.Data.Type,
		"version":  int64(ev.StreamVersion),
		"position": int64(ev.Position.Seq()),
		"ts_ms":    ev.TimestampMs,
		"json":     jsonObj,
		"metadata": md,
		"now_ms":   time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// ValidateExpr reports whether expr compiles as an event predicate.
func ValidateExpr(expr string) error {
	_, err := newCELFilter(expr)
	return err
}
