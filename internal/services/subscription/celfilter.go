package subsvc

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/faro/internal/tflog"
)

// celFilter wraps a compiled CEL program evaluated per delivered event. When
// disabled, Eval always returns true.
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
		cel.Variable("event_type", cel.StringType),
		cel.Variable("stream", cel.StringType),
		cel.Variable("event_number", cel.IntType),
		cel.Variable("commit", cel.IntType),
		cel.Variable("prepare", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("is_json", cel.BoolType),
		// Current time in ms for windowed filters
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against a delivered event. When
// disabled, returns true; evaluation errors fail closed.
func (f celFilter) Eval(ev *tflog.ResolvedEvent, pos tflog.TfPos) bool {
	if !f.enabled {
		return true
	}
	rec := ev.Event
	if rec == nil {
		rec = ev.PositionEvent()
	}
	var jsonObj any
	if rec.IsJSON {
		_ = json.Unmarshal(rec.Data, &jsonObj)
	}
	out, _, err := f.prog.Eval(map[string]any{
		"event_type":   rec.EventType,
		"stream":       rec.StreamID,
		"event_number": int64(rec.EventNumber),
		"commit":       pos.Commit,
		"prepare":      pos.Prepare,
		"size":         int64(len(rec.Data)),
		"text":         string(rec.Data),
		"json":         jsonObj,
		"is_json":      rec.IsJSON,
		"now_ms":       time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
