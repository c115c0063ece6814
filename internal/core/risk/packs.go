package risk

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultAllowlist is intentionally narrow; packs expand it.
var DefaultAllowlist = []string{"batch"}

// DefaultPacks are the packs selected when the caller names none.
var DefaultPacks = []string{"core"}

// packMethods maps capability pack names to the method patterns they unlock.
var packMethods = map[string][]string{
	"core": {
		"batch",
		"user.*",
		"department.*",
		"crm.*",
		"tasks.task.*",
		"task.*",
		"event.*",
	},
	"comms": {
		"im.*",
		"imbot.*",
		"imopenlines.*",
		"imconnector.*",
		"messageservice.*",
		"mailservice.*",
		"telephony.*",
	},
	"automation": {
		"bizproc.*",
		"crm.automation.*",
		"lists.*",
	},
	"collab": {
		"sonet_group.*",
		"socialnetwork.*",
		"log.*",
		"calendar.*",
		"vote.*",
	},
	"content": {
		"disk.*",
		"file.*",
		"files.*",
		"documentgenerator.*",
	},
	"boards": {
		"tasks.api.scrum.*",
		"tasks.scrum.*",
	},
	"commerce": {
		"sale.*",
		"catalog.*",
	},
	"services": {
		"booking.*",
		"calendar.*",
		"timeman.*",
	},
	"platform": {
		"entity.*",
		"biconnector.*",
		"ai.*",
	},
	"sites": {
		"landing.*",
	},
	"compliance": {
		"userconsent.*",
		"sign.*",
	},
	"diagnostics": {
		"method.get",
		"methods",
		"events",
		"feature.get",
		"scope",
		"server.time",
	},
}

// PackPatterns returns the full pack catalog for display.
func PackPatterns() map[string][]string {
	out := make(map[string][]string, len(packMethods))
	for name, patterns := range packMethods {
		out[name] = append([]string{}, patterns...)
	}
	return out
}

// ParseAllowlist splits a comma-separated pattern list, falling back to the
// default allowlist when empty.
func ParseAllowlist(raw string) []string {
	var patterns []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return append([]string{}, DefaultAllowlist...)
	}
	return patterns
}

// ParsePacks validates a comma-separated pack list. An empty value selects
// the default packs; the literal "none" selects no packs; an unknown pack
// name is a hard configuration error.
func ParsePacks(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string{}, DefaultPacks...), nil
	}

	var names []string
	for _, n := range strings.Split(raw, ",") {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 1 && names[0] == "none" {
		return []string{}, nil
	}

	var packs []string
	seen := map[string]bool{}
	for _, name := range names {
		if _, ok := packMethods[name]; !ok {
			available := make([]string, 0, len(packMethods))
			for k := range packMethods {
				available = append(available, k)
			}
			sort.Strings(available)
			return nil, fmt.Errorf("unknown pack %q, available packs: %s", name, strings.Join(available, ", "))
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		packs = append(packs, name)
	}
	return packs, nil
}

// ExpandAllowlist merges the base patterns with the patterns of the selected
// packs, preserving order and dropping duplicates.
func ExpandAllowlist(base []string, packs []string) []string {
	var merged []string
	seen := map[string]bool{}

	add := func(pattern string) {
		key := strings.ToLower(pattern)
		if !seen[key] {
			seen[key] = true
			merged = append(merged, key)
		}
	}

	for _, p := range base {
		add(p)
	}
	for _, pack := range packs {
		for _, p := range packMethods[pack] {
			add(p)
		}
	}
	return merged
}
