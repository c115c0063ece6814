package risk

import (
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		params   map[string]any
		expected Level
	}{
		{name: "plain read", method: "crm.lead.list", expected: Read},
		{name: "get is read", method: "user.get", expected: Read},
		{name: "add is write", method: "crm.lead.add", expected: Write},
		{name: "update is write", method: "crm.deal.update", expected: Write},
		{name: "set suffix", method: "crm.timeline.bindings.set", expected: Write},
		{name: "register is write", method: "event.bind", expected: Write},
		{name: "import is write", method: "crm.lead.import", expected: Write},
		{name: "delete is destructive", method: "crm.lead.delete", expected: Destructive},
		{name: "remove is destructive", method: "task.commentitem.remove", expected: Destructive},
		{name: "unbind is destructive", method: "event.unbind", expected: Destructive},
		{name: "recyclebin", method: "crm.recyclebin", expected: Destructive},
		{name: "suffix only not substring", method: "crm.additive.list", expected: Read},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Classify(tt.method, tt.params)
			if result != tt.expected {
				t.Errorf("Classify(%q) = %v, want %v", tt.method, result, tt.expected)
			}
		})
	}
}

func TestClassifyBatch(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]any
		expected Level
	}{
		{
			name:     "all reads",
			params:   map[string]any{"cmd": map[string]any{"a": "crm.lead.list", "b": "user.get?ID=1"}},
			expected: Read,
		},
		{
			name:     "write wins over read",
			params:   map[string]any{"cmd": map[string]any{"a": "crm.lead.list", "b": "crm.lead.add?FIELDS[TITLE]=x"}},
			expected: Write,
		},
		{
			name:     "destructive wins over write",
			params:   map[string]any{"cmd": map[string]any{"a": "crm.lead.add", "b": "crm.lead.delete?ID=5"}},
			expected: Destructive,
		},
		{
			name:     "empty cmd defaults to read",
			params:   map[string]any{"cmd": map[string]any{}},
			expected: Read,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Classify("batch", tt.params)
			if result != tt.expected {
				t.Errorf("Classify(batch) = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestBatchCommandMethod(t *testing.T) {
	if got := BatchCommandMethod("crm.lead.get?ID=42"); got != "crm.lead.get" {
		t.Errorf("BatchCommandMethod = %q, want crm.lead.get", got)
	}
	if got := BatchCommandMethod("crm.lead.list"); got != "crm.lead.list" {
		t.Errorf("BatchCommandMethod = %q, want crm.lead.list", got)
	}
}

func TestIsAllowed(t *testing.T) {
	patterns := []string{"crm.lead.*", "user.get", "batch"}

	tests := []struct {
		method  string
		allowed bool
	}{
		{"crm.lead.list", true},
		{"crm.lead.add", true},
		{"CRM.LEAD.LIST", true},
		{"user.get", true},
		{"user.add", false},
		{"batch", true},
		{"telephony.call.list", false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := IsAllowed(tt.method, patterns); got != tt.allowed {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.method, got, tt.allowed)
			}
		})
	}
}

func TestParsePacks(t *testing.T) {
	packs, err := ParsePacks("")
	if err != nil {
		t.Fatalf("ParsePacks(\"\") error: %v", err)
	}
	if len(packs) != len(DefaultPacks) || packs[0] != "core" {
		t.Errorf("ParsePacks(\"\") = %v, want default packs %v", packs, DefaultPacks)
	}

	packs, err = ParsePacks("none")
	if err != nil {
		t.Fatalf("ParsePacks(none) error: %v", err)
	}
	if len(packs) != 0 {
		t.Errorf("ParsePacks(none) = %v, want empty", packs)
	}

	packs, err = ParsePacks("core, comms")
	if err != nil {
		t.Fatalf("ParsePacks error: %v", err)
	}
	if len(packs) != 2 || packs[0] != "core" || packs[1] != "comms" {
		t.Errorf("ParsePacks(core,comms) = %v", packs)
	}

	_, err = ParsePacks("core,bogus")
	if err == nil {
		t.Fatal("ParsePacks(core,bogus) expected error")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error %q should name the unknown pack", err)
	}
}

func TestExpandAllowlist(t *testing.T) {
	expanded := ExpandAllowlist([]string{"batch", "custom.*"}, []string{"core"})

	seen := map[string]int{}
	for _, p := range expanded {
		seen[p]++
	}
	if seen["batch"] != 1 {
		t.Errorf("batch should appear exactly once, got %d", seen["batch"])
	}
	if seen["custom.*"] != 1 {
		t.Error("explicit patterns should survive expansion")
	}
	if seen["crm.*"] == 0 {
		t.Error("core pack should contribute crm.* pattern")
	}

	// Pack methods must make real calls pass the gate.
	if !IsAllowed("crm.lead.list", expanded) {
		t.Error("crm.lead.list should be allowed with core pack")
	}
	if IsAllowed("telephony.externalcall.register", expanded) {
		t.Error("telephony should not be allowed without comms pack")
	}
}
