package resolver

import "strings"

// msvcPath reads the qualified name of an MSVC decorated symbol such as
// ?push@Stack@util@@QEAAXH@Z, which lists the name first and its scopes
// innermost first up to "@@". The type encoding after "@@" is ignored.
// Template and nested-function scopes are not decoded; such names return
// nil and fall back to the opaque form.
func msvcPath(name string) []string {
	s := name[1:]

	var special string
	if strings.HasPrefix(s, "?") && len(s) > 1 {
		// Operator and special member codes: ??0 ctor, ??1 dtor.
		special = s[1:2]
		s = s[2:]
	}
	if special == "$" {
		return nil
	}

	end := strings.Index(s, "@@")
	if end < 0 {
		return nil
	}
	parts := strings.Split(s[:end], "@")

	var seen []string
	resolved := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		switch {
		case p == "":
			return nil
		case len(p) == 1 && p[0] >= '0' && p[0] <= '9':
			// Back-reference to an earlier name.
			i := int(p[0] - '0')
			if i >= len(seen) {
				return nil
			}
			p = seen[i]
		case strings.ContainsAny(p, "?$"):
			return nil
		default:
			seen = append(seen, p)
		}
		resolved = append(resolved, p)
	}

	if special != "" {
		class := resolved[0]
		switch special {
		case "0":
			resolved = append([]string{class}, resolved...)
		case "1":
			resolved = append([]string{"~" + class}, resolved...)
		default:
			resolved = append([]string{"operator ?" + special}, resolved...)
		}
	}

	// Innermost first in the decoration; outermost first in the path.
	for i, j := 0, len(resolved)-1; i < j; i, j = i+1, j-1 {
		resolved[i], resolved[j] = resolved[j], resolved[i]
	}
	return resolved
}
