package bridge

import "testing"

func TestScriptName(t *testing.T) {
	tests := []struct {
		wit    string
		script string
	}{
		{"add", "add"},
		{"add-u32", "addU32"},
		{"safe-divide", "safeDivide"},
		{"text-style", "textStyle"},
		{"get-text-style", "getTextStyle"},
		{"a", "a"},
		{"a-b-c", "aBC"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.wit, func(t *testing.T) {
			if got := ScriptName(tt.wit); got != tt.script {
				t.Errorf("ScriptName(%q) = %q, want %q", tt.wit, got, tt.script)
			}
		})
	}
}

func TestWitName(t *testing.T) {
	tests := []struct {
		script string
		wit    string
	}{
		{"add", "add"},
		{"addU32", "add-u32"},
		{"safeDivide", "safe-divide"},
		{"textStyle", "text-style"},
		{"a", "a"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			if got := WitName(tt.script); got != tt.wit {
				t.Errorf("WitName(%q) = %q, want %q", tt.script, got, tt.wit)
			}
		})
	}
}

// The mapping must be exact in both directions so that a name surfaced
// to scripts resolves back to the declared WIT identifier.
func TestNameRoundTrip(t *testing.T) {
	names := []string{"add", "add-u32", "safe-divide", "get-text-style", "parse-header-v2"}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			if got := WitName(ScriptName(name)); got != name {
				t.Errorf("WitName(ScriptName(%q)) = %q", name, got)
			}
		})
	}
}

func TestConstName(t *testing.T) {
	tests := []struct {
		wit string
		con string
	}{
		{"red", "Red"},
		{"text-style", "TextStyle"},
		{"bold-italic", "BoldItalic"},
		{"a", "A"},
	}

	for _, tt := range tests {
		t.Run(tt.wit, func(t *testing.T) {
			if got := ConstName(tt.wit); got != tt.con {
				t.Errorf("ConstName(%q) = %q, want %q", tt.wit, got, tt.con)
			}
		})
	}
}
