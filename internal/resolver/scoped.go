package resolver

import "strings"

// levels returns the bracket nesting depth at each byte of s, counting
// <>, (), [] and {}. An opening bracket sits at the outer depth and its
// closing bracket at the same depth. The symbols of operator names such as
// operator<< or operator() do not nest.
func levels(s string) []int {
	out := make([]int, len(s))
	depth := 0
	for i := 0; i < len(s); i++ {
		if strings.HasPrefix(s[i:], "operator") && (i == 0 || !isIdent(s[i-1])) {
			end := operatorEnd(s, i+len("operator"))
			for k := i; k < end; k++ {
				out[k] = depth
			}
			i = end - 1
			continue
		}
		if s[i] == '>' && i > 0 && s[i-1] == '-' {
			out[i] = depth // "->" in function types
			continue
		}
		switch s[i] {
		case '<', '(', '[', '{':
			out[i] = depth
			depth++
		case '>', ')', ']', '}':
			if depth > 0 {
				depth--
			}
			out[i] = depth
		default:
			out[i] = depth
		}
	}
	return out
}

// operatorEnd returns the index just past the operator token that starts
// at j, right after the "operator" keyword.
func operatorEnd(s string, j int) int {
	if j >= len(s) || isIdent(s[j]) {
		return j
	}
	if strings.HasPrefix(s[j:], "()") || strings.HasPrefix(s[j:], "[]") {
		return j + 2
	}
	if s[j] == ' ' {
		// operator new, operator delete[], conversion operators.
		k := j + 1
		for k < len(s) && isIdent(s[k]) {
			k++
		}
		if strings.HasPrefix(s[k:], "[]") {
			k += 2
		}
		return k
	}
	k := j
	for k < len(s) && strings.IndexByte("<>=!+-*/%^&|~,", s[k]) >= 0 {
		k++
	}
	return k
}

func isIdent(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// splitScoped splits s on "::" at depth 0.
func splitScoped(s string) []string {
	lv := levels(s)
	var segs []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == ':' && s[i+1] == ':' && lv[i] == 0 && lv[i+1] == 0 {
			segs = append(segs, s[start:i])
			start = i + 2
			i++
		}
	}
	return append(segs, s[start:])
}

// stripReturnType removes the return type the Itanium demangler prints in
// front of function template specializations, as in
// "void ns::f<int>(int)".
func stripReturnType(s string) string {
	lv := levels(s)
	paren := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '(' && lv[i] == 0 {
			paren = i
			break
		}
	}
	if paren <= 0 || s[paren-1] != '>' {
		return s
	}
	for i := paren - 1; i >= 0; i-- {
		if s[i] == ' ' && lv[i] == 0 {
			return s[i+1:]
		}
	}
	return s
}
