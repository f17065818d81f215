package download

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	// filename*=UTF-8''percent%20encoded.pkg (RFC 5987)
	dispositionExtRe = regexp.MustCompile(`(?i)filename\*\s*=\s*UTF-8''([^;\s]+)`)
	// filename="quoted.pkg" or filename=bare.pkg
	dispositionRe = regexp.MustCompile(`(?i)filename\s*=\s*"?([^";]+)"?`)
)

// resolveFilename determines the name the downloaded file is stored under.
// Priority: the URL's last path component, then the Content-Disposition
// header, then a constructed "{displayName}_{version}.{ext}" fallback where
// ext comes from the URL path or defaults to dmg.
func resolveFilename(parsed *url.URL, disposition, displayName, version string) string {
	if name := filenameFromURL(parsed); name != "" {
		return name
	}
	if name := filenameFromDisposition(disposition); name != "" {
		return name
	}

	ext := strings.TrimPrefix(path.Ext(parsed.Path), ".")
	if ext == "" {
		ext = "dmg"
	}
	return fmt.Sprintf("%s_%s.%s", displayName, version, ext)
}

// filenameFromURL returns the URL's last path component when it names an
// actual file. Bare hosts, trailing slashes, and extension-less endpoints
// (e.g. /download/latest) yield "".
func filenameFromURL(parsed *url.URL) string {
	base := path.Base(parsed.Path)
	if base == "" || base == "." || base == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	if !strings.Contains(base, ".") {
		return ""
	}
	return base
}

// filenameFromDisposition extracts a filename from a Content-Disposition
// header value, preferring the RFC 5987 extended form.
func filenameFromDisposition(disposition string) string {
	if disposition == "" {
		return ""
	}

	if m := dispositionExtRe.FindStringSubmatch(disposition); m != nil {
		name := m[1]
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		return sanitizeFilename(name)
	}
	if m := dispositionRe.FindStringSubmatch(disposition); m != nil {
		name := strings.TrimSpace(m[1])
		if decoded, err := url.QueryUnescape(name); err == nil && strings.Contains(name, "%") {
			name = decoded
		}
		return sanitizeFilename(name)
	}
	return ""
}

// sanitizeFilename strips any path components a hostile or sloppy server
// may have embedded in the header.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
