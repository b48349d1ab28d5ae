// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package classifier

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// Sanitize applies the content-type-specific sanitization policy.
// Sanitize is idempotent for every policy: sanitizing already-sanitized
// content returns it unchanged.
func Sanitize(content string, contentType ContentType) string {
	switch contentType {
	case ContentTypeHTML:
		return sanitizeHTML(content)
	case ContentTypeURL:
		return sanitizeURL(content)
	case ContentTypeCSS:
		return sanitizeCSS(content)
	case ContentTypeJSON:
		return sanitizeJSON(content)
	default:
		return sanitizeText(content)
	}
}

// allowedTags is the HTML tag allow-list. Everything else is stripped,
// not escaped, so legitimate formatting survives sanitization.
var allowedTags = map[string]bool{
	"a": true, "b": true, "i": true, "u": true, "em": true, "strong": true,
	"p": true, "br": true, "hr": true, "span": true, "div": true,
	"ul": true, "ol": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "code": true, "pre": true, "table": true,
	"thead": true, "tbody": true, "tr": true, "td": true, "th": true,
}

// allowedAttrs is the attribute allow-list for allowed tags.
var allowedAttrs = map[string]bool{
	"href": true, "title": true, "alt": true, "class": true,
}

var (
	htmlCommentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlTagPattern     = regexp.MustCompile(`(?s)<[^>]*>`)
	tagPartsPattern    = regexp.MustCompile(`(?s)^<\s*(/?)\s*([a-zA-Z][a-zA-Z0-9]*)(.*?)/?\s*>$`)
	attrPattern        = regexp.MustCompile(`([a-zA-Z-]+)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>]+))`)
	// safeAttrValue excludes quote and angle characters so rebuilt tags
	// re-parse identically on a second pass.
	safeAttrValue = regexp.MustCompile(`^[a-zA-Z0-9 _.,/:#?&=%+()-]*$`)
)

// sanitizeHTML strips disallowed tags and attributes, rebuilding allowed
// tags in canonical form. Runs to fixpoint so nested-tag splicing tricks
// cannot reassemble a payload.
func sanitizeHTML(content string) string {
	for i := 0; i < 10; i++ {
		next := sanitizeHTMLOnce(content)
		if next == content {
			return content
		}
		content = next
	}
	return content
}

func sanitizeHTMLOnce(content string) string {
	content = htmlCommentPattern.ReplaceAllString(content, "")

	return htmlTagPattern.ReplaceAllStringFunc(content, func(tag string) string {
		parts := tagPartsPattern.FindStringSubmatch(tag)
		if parts == nil {
			return ""
		}

		closing := parts[1] == "/"
		name := strings.ToLower(parts[2])
		if !allowedTags[name] {
			return ""
		}
		if closing {
			return "</" + name + ">"
		}

		var b strings.Builder
		b.WriteString("<" + name)
		for _, attr := range attrPattern.FindAllStringSubmatch(parts[3], -1) {
			attrName := strings.ToLower(attr[1])
			if !allowedAttrs[attrName] {
				continue
			}
			value := attr[2]
			if value == "" {
				value = attr[3]
			}
			if value == "" {
				value = attr[4]
			}
			if !safeAttrValue.MatchString(value) {
				continue
			}
			if attrName == "href" && sanitizeURL(value) == "" {
				continue
			}
			b.WriteString(` ` + attrName + `="` + value + `"`)
		}
		b.WriteString(">")
		return b.String()
	})
}

// sanitizeText fully escapes HTML metacharacters. Unescaping first keeps
// the operation idempotent: already-escaped entities are not re-escaped.
func sanitizeText(content string) string {
	return html.EscapeString(html.UnescapeString(content))
}

// allowedSchemes is the URL scheme allow-list.
var allowedSchemes = map[string]bool{
	"http": true, "https": true, "mailto": true, "tel": true, "ftp": true,
}

// sanitizeURL enforces the scheme allow-list. Disallowed or unparseable
// URLs are rejected outright with an empty result, never repaired.
func sanitizeURL(content string) string {
	// Browsers strip tab/CR/LF inside URLs before interpreting them, so
	// a split scheme like "java\nscript:" must collapse before parsing.
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, strings.TrimSpace(content))

	parsed, err := url.Parse(cleaned)
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		// Relative reference: allowed, but an opaque remainder like the
		// payload of a mangled scheme is not.
		if parsed.Opaque != "" {
			return ""
		}
		return parsed.String()
	}
	if !allowedSchemes[scheme] {
		return ""
	}
	return parsed.String()
}

var cssStripPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)expression\s*\([^)]*\)?`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?is)@import[^;}]*;?`),
	regexp.MustCompile(`(?is)behavior\s*:[^;}]*;?`),
	regexp.MustCompile(`(?is)-moz-binding\s*:[^;}]*;?`),
}

// sanitizeCSS strips dynamic-content constructs. Runs to fixpoint so
// deletion cannot splice a new dangerous token together.
func sanitizeCSS(content string) string {
	for i := 0; i < 10; i++ {
		next := content
		for _, p := range cssStripPatterns {
			next = p.ReplaceAllString(next, "")
		}
		if next == content {
			return content
		}
		content = next
	}
	return content
}

// sanitizeJSON accepts only well-formed JSON and re-encodes it
// canonically; anything else is rejected with an empty result.
func sanitizeJSON(content string) string {
	var decoded interface{}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return ""
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return ""
	}
	return string(out)
}
