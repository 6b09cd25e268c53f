package bridge

import (
	"strings"
	"unicode"
)

// ScriptName converts a kebab-case WIT identifier to the lowerCamelCase
// form the script surface uses ("safe-divide" -> "safeDivide"). Exact
// inverse of WitName.
func ScriptName(name string) string {
	var result strings.Builder
	upper := false
	for _, r := range name {
		if r == '-' {
			upper = true
			continue
		}
		if upper {
			result.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// WitName converts a lowerCamelCase script identifier back to its
// kebab-case WIT form ("safeDivide" -> "safe-divide").
func WitName(name string) string {
	var result strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				result.WriteByte('-')
			}
			result.WriteRune(unicode.ToLower(r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ConstName converts a kebab-case WIT identifier to UpperCamelCase, used
// for the enum case and flags label constants on interface objects and for
// the type-name keys those constant objects live under
// ("text-style" -> "TextStyle").
func ConstName(name string) string {
	var result strings.Builder
	upper := true
	for _, r := range name {
		if r == '-' {
			upper = true
			continue
		}
		if upper {
			result.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
