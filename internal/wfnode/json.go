package wfnode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

func init() {
	RegisterNodeType("parse_json", newParseJsonNode)
	RegisterNodeType("validate_json", newValidateJsonNode)
	RegisterNodeType("transform_json", newTransformJsonNode)
	RegisterNodeType("gather_json", newGatherJsonNode)
}

// ─── ParseJson ───

// parseJsonNode parses text as JSON, optionally brace-scanning to
// extract the first top-level {...} object out of surrounding prose
// before parsing (e.g. a model reply that wraps JSON in commentary).
type parseJsonNode struct {
	braceScan bool
}

func newParseJsonNode(info wfgraph.NodeInfo) (Noder, error) {
	braceScan, _ := info.Data["brace_scan"].(bool)
	return &parseJsonNode{braceScan: braceScan}, nil
}

func (n *parseJsonNode) Kind() string           { return "parse_json" }
func (n *parseJsonNode) Inputs() int             { return 1 }
func (n *parseJsonNode) Outputs() int            { return 2 }
func (n *parseJsonNode) Priority() int64         { return 0 }
func (n *parseJsonNode) IsProtected() bool       { return false }
func (n *parseJsonNode) FailurePin() (int, bool) { return 1, true }
func (n *parseJsonNode) InKinds(int) []wfvalue.Kind {
	return []wfvalue.Kind{wfvalue.KindText}
}

func (n *parseJsonNode) OutKind(pin int) wfvalue.Kind {
	if pin == 1 {
		return wfvalue.KindFailure
	}
	return wfvalue.KindJSON
}

func (n *parseJsonNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	return RequireInput("parse_json", inputs, 0, wfvalue.KindText)
}

func (n *parseJsonNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	text, _ := inputs[0].AsText()
	if n.braceScan {
		text = extractBraceScan(text)
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, NewError(ErrConversion, "parse_json", fmt.Errorf("parse json: %w", err))
	}
	return []wfvalue.Value{wfvalue.JSON(v), wfvalue.Placeholder(wfvalue.KindFailure)}, nil
}

// extractBraceScan returns the substring from the first '{' to its
// matching '}', tracking nesting depth and skipping braces inside
// string literals.
func extractBraceScan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// ─── ValidateJson ───

// validateJsonNode checks a JSON value against a bound schema subset
// (type/required/properties — see validateAgainstSchema).
type validateJsonNode struct{}

func newValidateJsonNode(wfgraph.NodeInfo) (Noder, error) { return &validateJsonNode{}, nil }

func (n *validateJsonNode) Kind() string           { return "validate_json" }
func (n *validateJsonNode) Inputs() int             { return 2 }
func (n *validateJsonNode) Outputs() int            { return 2 }
func (n *validateJsonNode) Priority() int64         { return 0 }
func (n *validateJsonNode) IsProtected() bool       { return false }
func (n *validateJsonNode) FailurePin() (int, bool) { return 1, true }
func (n *validateJsonNode) InKinds(int) []wfvalue.Kind {
	return []wfvalue.Kind{wfvalue.KindJSON}
}

func (n *validateJsonNode) OutKind(pin int) wfvalue.Kind {
	if pin == 1 {
		return wfvalue.KindFailure
	}
	return wfvalue.KindJSON
}

func (n *validateJsonNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	if err := RequireInput("validate_json", inputs, 0, wfvalue.KindJSON); err != nil {
		return err
	}
	return RequireInput("validate_json", inputs, 1, wfvalue.KindJSON)
}

func (n *validateJsonNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	data, _ := inputs[0].AsJSON()
	schemaRaw, _ := inputs[1].AsJSON()
	schema, _ := schemaRaw.(map[string]any)
	if err := validateAgainstSchema(data, schema); err != nil {
		return nil, NewError(ErrValidation, "validate_json", err)
	}
	return []wfvalue.Value{wfvalue.JSON(data), wfvalue.Placeholder(wfvalue.KindFailure)}, nil
}

// validateAgainstSchema checks the type/required/properties subset of
// JSON Schema; no JSON Schema validator appears anywhere in the
// retrieval pack, so this hand-rolled structural check stands in for
// one (see DESIGN.md).
func validateAgainstSchema(data any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if wantType, ok := schema["type"].(string); ok {
		if !jsonTypeMatches(data, wantType) {
			return fmt.Errorf("expected type %q, got %T", wantType, data)
		}
	}
	obj, isObj := data.(map[string]any)
	if required, ok := schema["required"].([]any); ok {
		if !isObj {
			return fmt.Errorf("required fields declared but value is not an object")
		}
		for _, r := range required {
			name, _ := r.(string)
			if _, present := obj[name]; !present {
				return fmt.Errorf("missing required field %q", name)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok && isObj {
		for name, propSchema := range props {
			sub, ok := propSchema.(map[string]any)
			if !ok {
				continue
			}
			if v, present := obj[name]; present {
				if err := validateAgainstSchema(v, sub); err != nil {
					return fmt.Errorf("field %q: %w", name, err)
				}
			}
		}
	}
	return nil
}

func jsonTypeMatches(data any, want string) bool {
	switch want {
	case "object":
		_, ok := data.(map[string]any)
		return ok
	case "array":
		_, ok := data.([]any)
		return ok
	case "string":
		_, ok := data.(string)
		return ok
	case "number":
		_, ok := data.(float64)
		return ok
	case "integer":
		f, ok := data.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := data.(bool)
		return ok
	case "null":
		return data == nil
	default:
		return true
	}
}

// ─── TransformJson ───

// transformJsonNode runs a jq-dialect filter over a JSON value via the
// run's Transmuter.
type transformJsonNode struct{}

func newTransformJsonNode(wfgraph.NodeInfo) (Noder, error) { return &transformJsonNode{}, nil }

func (n *transformJsonNode) Kind() string           { return "transform_json" }
func (n *transformJsonNode) Inputs() int             { return 2 }
func (n *transformJsonNode) Outputs() int            { return 2 }
func (n *transformJsonNode) Priority() int64         { return 0 }
func (n *transformJsonNode) IsProtected() bool       { return false }
func (n *transformJsonNode) FailurePin() (int, bool) { return 1, true }

func (n *transformJsonNode) InKinds(pin int) []wfvalue.Kind {
	if pin == 1 {
		return []wfvalue.Kind{wfvalue.KindText}
	}
	return []wfvalue.Kind{wfvalue.KindJSON}
}

func (n *transformJsonNode) OutKind(pin int) wfvalue.Kind {
	if pin == 1 {
		return wfvalue.KindFailure
	}
	return wfvalue.KindJSON
}

func (n *transformJsonNode) Validate(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) error {
	if err := RequireInput("transform_json", inputs, 0, wfvalue.KindJSON); err != nil {
		return err
	}
	return RequireInput("transform_json", inputs, 1, wfvalue.KindText)
}

func (n *transformJsonNode) Execute(ctx context.Context, rc *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	data, _ := inputs[0].AsJSON()
	filterText, _ := inputs[1].AsText()
	if rc.Transmuter == nil {
		return nil, NewError(ErrProvider, "transform_json", fmt.Errorf("no transmuter configured"))
	}
	filter, err := rc.Transmuter.InitFilter(ctx, filterText)
	if err != nil {
		return nil, NewError(ErrConversion, "transform_json", err)
	}
	out, err := filter.Run(ctx, data)
	if err != nil {
		return nil, NewError(ErrConversion, "transform_json", err)
	}
	return []wfvalue.Value{wfvalue.JSON(out), wfvalue.Placeholder(wfvalue.KindFailure)}, nil
}

// ─── GatherJson ───

// gatherJsonNode collects its variable-arity inputs into a JSON array,
// skipping any pins still at Placeholder.
type gatherJsonNode struct {
	count int
}

func newGatherJsonNode(info wfgraph.NodeInfo) (Noder, error) {
	return &gatherJsonNode{count: dataArity(info, 1)}, nil
}

func (n *gatherJsonNode) Kind() string           { return "gather_json" }
func (n *gatherJsonNode) Inputs() int             { return n.count }
func (n *gatherJsonNode) Outputs() int            { return 1 }
func (n *gatherJsonNode) Priority() int64         { return 0 }
func (n *gatherJsonNode) IsProtected() bool       { return false }
func (n *gatherJsonNode) FailurePin() (int, bool) { return 0, false }
func (n *gatherJsonNode) InKinds(int) []wfvalue.Kind {
	return []wfvalue.Kind{wfvalue.KindJSON}
}
func (n *gatherJsonNode) OutKind(int) wfvalue.Kind { return wfvalue.KindJSON }

func (n *gatherJsonNode) Validate(context.Context, *wfexternal.RunContext, []wfvalue.Value) error {
	return nil
}

func (n *gatherJsonNode) Execute(_ context.Context, _ *wfexternal.RunContext, inputs []wfvalue.Value) ([]wfvalue.Value, error) {
	out := make([]any, 0, len(inputs))
	for _, v := range inputs {
		if v.IsPlaceholder() {
			continue
		}
		if j, ok := v.AsJSON(); ok {
			out = append(out, j)
		}
	}
	return []wfvalue.Value{wfvalue.JSON(out)}, nil
}
