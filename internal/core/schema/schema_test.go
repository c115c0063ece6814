package schema

import (
	"fmt"
	"testing"
)

func TestValidateMethod(t *testing.T) {
	tests := []struct {
		method  string
		wantErr bool
	}{
		{"crm.lead.list", false},
		{"batch", false},
		{"server.time", false},
		{"tasks.task.add", false},
		{"ab", true},
		{"", true},
		{"CRM.Lead.List", true},
		{"crm..lead", true},
		{".crm.lead", true},
		{"crm.lead.", true},
		{"crm lead list", true},
		{"crm.lead;drop", true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			err := ValidateMethod(tt.method)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMethod(%q) error = %v, wantErr %v", tt.method, err, tt.wantErr)
			}
		})
	}
}

func TestValidateBatchParams(t *testing.T) {
	bigCmd := map[string]any{}
	for i := 0; i < MaxBatchCommands+1; i++ {
		bigCmd[fmt.Sprintf("c%d", i)] = "crm.lead.list"
	}

	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{
			name:    "valid batch",
			params:  map[string]any{"cmd": map[string]any{"a": "crm.lead.list"}},
			wantErr: false,
		},
		{
			name:    "halt as bool",
			params:  map[string]any{"cmd": map[string]any{"a": "user.get"}, "halt": true},
			wantErr: false,
		},
		{
			name:    "halt as json number",
			params:  map[string]any{"cmd": map[string]any{"a": "user.get"}, "halt": float64(1)},
			wantErr: false,
		},
		{
			name:    "halt out of range",
			params:  map[string]any{"cmd": map[string]any{"a": "user.get"}, "halt": float64(2)},
			wantErr: true,
		},
		{
			name:    "missing cmd",
			params:  map[string]any{},
			wantErr: true,
		},
		{
			name:    "empty cmd",
			params:  map[string]any{"cmd": map[string]any{}},
			wantErr: true,
		},
		{
			name:    "cmd not object",
			params:  map[string]any{"cmd": []any{"crm.lead.list"}},
			wantErr: true,
		},
		{
			name:    "non-string command",
			params:  map[string]any{"cmd": map[string]any{"a": 7}},
			wantErr: true,
		},
		{
			name:    "too many commands",
			params:  map[string]any{"cmd": bigCmd},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams("batch", tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParams(batch) error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateOfflineGetParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{name: "clear absent", params: map[string]any{}, wantErr: false},
		{name: "clear string zero", params: map[string]any{"clear": "0"}, wantErr: false},
		{name: "clear string one", params: map[string]any{"clear": "1"}, wantErr: false},
		{name: "clear number", params: map[string]any{"clear": float64(1)}, wantErr: false},
		{name: "clear bad string", params: map[string]any{"clear": "yes"}, wantErr: true},
		{name: "clear bad number", params: map[string]any{"clear": float64(3)}, wantErr: true},
		{name: "clear bad type", params: map[string]any{"clear": []any{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParams("event.offline.get", tt.params)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParams(event.offline.get) error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParamsUnknownMethodPasses(t *testing.T) {
	if err := ValidateParams("crm.lead.add", map[string]any{"anything": "goes"}); err != nil {
		t.Errorf("unknown method params should pass, got %v", err)
	}
}
