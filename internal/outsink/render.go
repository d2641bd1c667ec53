package outsink

import (
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/loom/internal/wfvalue"
)

// renderText projects a Value to a human-readable string for
// notification sinks, which only render text — not graphs or agent
// specs. Matches the rendering latitude spec.md §6 gives outputs
// consumers ("filter, or aggregate").
func renderText(v wfvalue.Value) (string, error) {
	switch v.Kind() {
	case wfvalue.KindText:
		s, _ := v.AsText()
		return s, nil
	case wfvalue.KindInteger:
		n, _ := v.AsInteger()
		return fmt.Sprintf("%d", n), nil
	case wfvalue.KindNumber:
		n, _ := v.AsNumber()
		return fmt.Sprintf("%g", n), nil
	case wfvalue.KindJSON:
		data, _ := v.AsJSON()
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	case wfvalue.KindMessage:
		msg, _ := v.AsMessage()
		if s, ok := msg.Content.(string); ok {
			return s, nil
		}
		b, err := json.Marshal(msg.Content)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case wfvalue.KindFailure:
		err, _ := v.AsFailure()
		if err != nil {
			return err.Error(), nil
		}
		return "", nil
	case wfvalue.KindTextList:
		list, _ := v.AsTextList()
		out := ""
		for i, s := range list {
			if i > 0 {
				out += "\n"
			}
			out += s
		}
		return out, nil
	default:
		return "", errUnsupportedValue
	}
}
