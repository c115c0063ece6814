// Package schema validates request shapes before they reach the call
// executor. Validation is a pass/fail contract on structure, not business
// semantics.
package schema

import (
	"fmt"
	"regexp"
)

// MaxBatchCommands bounds one batch request.
const MaxBatchCommands = 50

var methodNameRE = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

// ValidateMethod checks the method name shape.
func ValidateMethod(method string) error {
	if len(method) < 3 {
		return fmt.Errorf("method: name shorter than 3 characters")
	}
	if !methodNameRE.MatchString(method) {
		return fmt.Errorf("method: name does not match required pattern")
	}
	return nil
}

// ValidateParams checks method-specific parameter shapes. Params for unknown
// methods are an open key/value map and always pass.
func ValidateParams(method string, params map[string]any) error {
	switch method {
	case "batch":
		return validateBatchParams(params)
	case "event.offline.get":
		return validateOfflineGetParams(params)
	default:
		return nil
	}
}

func validateBatchParams(params map[string]any) error {
	raw, ok := params["cmd"]
	if !ok {
		return fmt.Errorf("params: missing required field 'cmd'")
	}
	cmd, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("params.cmd: expected type object")
	}
	if len(cmd) == 0 {
		return fmt.Errorf("params.cmd: object must not be empty")
	}
	if len(cmd) > MaxBatchCommands {
		return fmt.Errorf("params.cmd: object has more than %d commands", MaxBatchCommands)
	}
	for name, v := range cmd {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("params.cmd.%s: expected type string", name)
		}
	}

	if halt, ok := params["halt"]; ok {
		switch v := halt.(type) {
		case bool:
		case float64:
			if v != 0 && v != 1 {
				return fmt.Errorf("params.halt: value %v not in enum [0 1]", v)
			}
		case int:
			if v != 0 && v != 1 {
				return fmt.Errorf("params.halt: value %v not in enum [0 1]", v)
			}
		default:
			return fmt.Errorf("params.halt: expected boolean or 0/1")
		}
	}
	return nil
}

func validateOfflineGetParams(params map[string]any) error {
	clear, ok := params["clear"]
	if !ok {
		return nil
	}
	switch v := clear.(type) {
	case string:
		if v != "0" && v != "1" {
			return fmt.Errorf(`params.clear: value %q not in enum ["0" "1"]`, v)
		}
	case float64:
		if v != 0 && v != 1 {
			return fmt.Errorf("params.clear: value %v not in enum [0 1]", v)
		}
	case int:
		if v != 0 && v != 1 {
			return fmt.Errorf("params.clear: value %v not in enum [0 1]", v)
		}
	default:
		return fmt.Errorf("params.clear: expected 0/1 or string enum")
	}
	return nil
}
