package resolver

import (
	"net/url"
	"strings"

	"github.com/quasilyte/stdinfo"
)

// StdSegment is the root segment for Go standard library packages when
// grouping is on.
const StdSegment = "std"

func stdPackages() map[string]struct{} {
	set := make(map[string]struct{}, len(stdinfo.PackagesList))
	for _, pkg := range stdinfo.PackagesList {
		set[pkg.Path] = struct{}{}
	}
	return set
}

// isGoName reports whether name has the shape of a Go symbol: a package
// path, a dot, and something after it that is not just a number.
func isGoName(name string) bool {
	if strings.HasPrefix(name, "type:") || strings.HasPrefix(name, "go:") {
		return true
	}
	dot := packageEnd(name)
	if dot <= 0 || dot == len(name)-1 {
		return false
	}
	rest := name[dot+1:]
	return strings.TrimLeft(rest, "0123456789") != ""
}

// packageEnd returns the index of the dot ending the package path of a Go
// symbol name, or -1. The path may contain dots before its last slash.
func packageEnd(name string) int {
	limit := len(name)
	if i := strings.IndexAny(name, "[("); i >= 0 {
		limit = i
	}
	slash := strings.LastIndexByte(name[:limit], '/')
	dot := strings.IndexByte(name[slash+1:limit], '.')
	if dot < 0 {
		return -1
	}
	return slash + 1 + dot
}

// goPath splits a Go symbol into import path elements followed by the
// type, method and closure chain, e.g.
//
//	net/http.(*Server).Serve.func1 → net, http, (*Server), Serve, func1
func (r *Resolver) goPath(name string) []string {
	for _, prefix := range []string{"type:", "go:"} {
		if strings.HasPrefix(name, prefix) {
			return []string{prefix, name[len(prefix):]}
		}
	}

	dot := packageEnd(name)
	if dot <= 0 {
		return nil
	}
	pkg := name[:dot]
	if unescaped, err := url.PathUnescape(pkg); err == nil {
		pkg = unescaped
	}

	var segs []string
	if r.stdPkgs != nil {
		if _, ok := r.stdPkgs[pkg]; ok {
			segs = append(segs, StdSegment)
		}
	}
	segs = append(segs, strings.Split(pkg, "/")...)

	rest := name[dot+1:]
	if r.opts.Simplify {
		rest = dropTypeArgs(rest)
	}
	return append(segs, splitGoMembers(rest)...)
}

// splitGoMembers splits on dots outside brackets and parentheses. A purely
// numeric element, as in init.0 or func1.2, stays with the one before it.
func splitGoMembers(s string) []string {
	var segs []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		case '.':
			if depth == 0 {
				segs = appendGoMember(segs, s[start:i])
				start = i + 1
			}
		}
	}
	return appendGoMember(segs, s[start:])
}

func appendGoMember(segs []string, seg string) []string {
	if n := len(segs); n > 0 && seg != "" && strings.TrimLeft(seg, "0123456789") == "" {
		segs[n-1] += "." + seg
		return segs
	}
	return append(segs, seg)
}

// dropTypeArgs replaces generic instantiation lists with "[...]".
func dropTypeArgs(s string) string {
	var sb strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '[':
			if depth == 0 {
				sb.WriteString("[...]")
			}
			depth++
		case c == ']' && depth > 0:
			depth--
		case depth == 0:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
