package transmuter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// registerHelpers adds the small set of JS helpers the teacher's goja.go
// exposes to filter/script code: toString, jsonParse, btoa, atob,
// JSON_stringify. HTTP helpers are intentionally dropped — a JSON filter
// has no business making outbound calls; tool/HTTP I/O belongs to
// internal/toolbox.
func registerHelpers(vm *goja.Runtime) error {
	if err := vm.Set("toString", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		switch val := call.Arguments[0].Export().(type) {
		case []byte:
			return vm.ToValue(string(val))
		case string:
			return vm.ToValue(val)
		default:
			return vm.ToValue(fmt.Sprintf("%v", val))
		}
	}); err != nil {
		return err
	}

	if err := vm.Set("jsonParse", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		var raw []byte
		switch val := call.Arguments[0].Export().(type) {
		case []byte:
			raw = val
		case string:
			raw = []byte(val)
		default:
			panic(vm.NewTypeError("jsonParse: expected string or bytes"))
		}
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			panic(vm.NewTypeError("jsonParse: " + err.Error()))
		}
		return vm.ToValue(parsed)
	}); err != nil {
		return err
	}

	if err := vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		var raw []byte
		switch val := call.Arguments[0].Export().(type) {
		case []byte:
			raw = val
		case string:
			raw = []byte(val)
		default:
			panic(vm.NewTypeError("btoa: expected string or bytes"))
		}
		return vm.ToValue(base64.StdEncoding.EncodeToString(raw))
	}); err != nil {
		return err
	}

	if err := vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue([]byte{})
		}
		decoded, err := base64.StdEncoding.DecodeString(call.Arguments[0].String())
		if err != nil {
			panic(vm.NewTypeError("atob: " + err.Error()))
		}
		return vm.ToValue(decoded)
	}); err != nil {
		return err
	}

	return vm.Set("JSON_stringify", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		data, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(data))
	})
}
