package source

import (
	"strings"
)

// Scheme returns the URI scheme, or "file" for bare paths.
func Scheme(uri string) string {
	if i := strings.Index(uri, "://"); i > 0 {
		return strings.ToLower(uri[:i])
	}
	return "file"
}

// JoinURI joins a directory URI and a name with exactly one separator.
func JoinURI(dir, name string) string {
	return strings.TrimSuffix(dir, "/") + "/" + strings.TrimPrefix(name, "/")
}

// ParentDir returns the directory URI containing uri.
func ParentDir(uri string) string {
	trimmed := strings.TrimSuffix(uri, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return trimmed
	}
	return trimmed[:i]
}

// ResolveHref expands href against the URI of the document it appeared in.
// Relative hrefs (starting with ".") are joined to the document's directory
// and "." / ".." segments are simplified. Absolute hrefs pass through.
func ResolveHref(documentURI, href string) string {
	if !strings.HasPrefix(href, ".") {
		return href
	}
	joined := JoinURI(ParentDir(documentURI), href)
	return SimplifyPath(joined)
}

// SimplifyPath removes "." segments and resolves ".." segments in the path
// portion of a URI, leaving the scheme and authority untouched.
func SimplifyPath(uri string) string {
	prefix := ""
	rest := uri
	if i := strings.Index(uri, "://"); i > 0 {
		// Keep scheme://authority intact; simplify only the path.
		j := strings.Index(uri[i+3:], "/")
		if j < 0 {
			return uri
		}
		prefix = uri[:i+3+j]
		rest = uri[i+3+j:]
	}

	segments := strings.Split(rest, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			// drop
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
			} else if prefix == "" {
				out = append(out, seg)
			}
		default:
			out = append(out, seg)
		}
	}

	simplified := strings.Join(out, "/")
	if prefix != "" && !strings.HasPrefix(simplified, "/") {
		simplified = "/" + simplified
	}
	return prefix + simplified
}
