package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("SM_TABLE", "sitemapper")
	t.Setenv("SM_EMPTY", "")
	t.Setenv("SM_REGION", "us-east-1")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "table: ${SM_TABLE}", "table: sitemapper"},
		{"unset", "table: ${SM_UNSET_12345}", "table: "},
		{"default when unset", "table: ${SM_UNSET_12345:-fallback}", "table: fallback"},
		{"default ignored when set", "table: ${SM_TABLE:-fallback}", "table: sitemapper"},
		{"default when empty", "table: ${SM_EMPTY:-fallback}", "table: fallback"},
		{"multiple", "${SM_TABLE}@${SM_REGION}", "sitemapper@us-east-1"},
		{"no refs", "no variables here", "no variables here"},
		{"bare dollar untouched", "cost: $SM_TABLE", "cost: $SM_TABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "secret")

	input := `notify:
  headers:
    Authorization: Bearer ${HOOK_TOKEN}`
	want := `notify:
  headers:
    Authorization: Bearer secret`

	if got := ExpandEnv(input); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestUnsetVars(t *testing.T) {
	t.Setenv("SM_TABLE", "sitemapper")

	got := UnsetVars("${SM_TABLE} ${SM_MISSING_A} ${SM_MISSING_B:-x} ${SM_MISSING_A} ${SM_MISSING_C}")
	if len(got) != 2 || got[0] != "SM_MISSING_A" || got[1] != "SM_MISSING_C" {
		t.Errorf("unexpected unset vars: %v", got)
	}
}
