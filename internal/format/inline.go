package format

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	tagPattern  = regexp.MustCompile(`^</?[A-Za-z][^<>]*>`)
	codeOpen    = regexp.MustCompile(`^<code[\s>]`)
	linkPattern = regexp.MustCompile(`^\[([^\]]+)\]\(([^)]+)\)`)
)

// parseInline tokenizes s left to right. Emitted spans are never rescanned.
func parseInline(s string) []Inline {
	var (
		out  []Inline
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			out = append(out, Inline{Kind: InlineText, Text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); {
		if tok, n, ok := matchInline(s, i); ok {
			flush()
			out = append(out, tok)
			i += n
			continue
		}
		text.WriteByte(s[i])
		i++
	}
	flush()
	return out
}

func matchInline(s string, i int) (Inline, int, bool) {
	rest := s[i:]
	switch rest[0] {
	case '<':
		if m := tagPattern.FindString(rest); m != "" {
			// an emitted code span keeps its body verbatim
			if codeOpen.MatchString(m) {
				if end := strings.Index(rest, "</code>"); end >= 0 {
					n := end + len("</code>")
					return Inline{Kind: InlineTag, Text: rest[:n]}, n, true
				}
			}
			return Inline{Kind: InlineTag, Text: m}, len(m), true
		}
	case '`':
		if end := strings.IndexByte(rest[1:], '`'); end > 0 {
			return Inline{Kind: InlineCode, Text: rest[1 : 1+end]}, end + 2, true
		}
	case '*', '_':
		if rest[0] == '_' && i > 0 && isWordBefore(s[:i]) {
			break
		}
		if len(rest) > 1 && rest[1] == rest[0] {
			if inner, n, ok := delimited(rest, rest[:2]); ok {
				return Inline{Kind: InlineStrong, Children: parseInline(inner)}, n, true
			}
		}
		if inner, n, ok := delimited(rest, rest[:1]); ok {
			return Inline{Kind: InlineEmphasis, Children: parseInline(inner)}, n, true
		}
	case '~':
		if strings.HasPrefix(rest, "~~") {
			if inner, n, ok := delimited(rest, "~~"); ok {
				return Inline{Kind: InlineStrike, Children: parseInline(inner)}, n, true
			}
		}
	case '[':
		if m := linkPattern.FindStringSubmatch(rest); m != nil {
			return Inline{Kind: InlineLink, Href: m[2], Children: parseInline(m[1])}, len(m[0]), true
		}
	}
	return Inline{}, 0, false
}

// delimited finds the shortest non-empty span closed by delim on the same
// line. It returns the span and the number of bytes consumed.
func delimited(rest, delim string) (string, int, bool) {
	body := rest[len(delim):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[:nl]
	}
	end := strings.Index(body, delim)
	if end <= 0 {
		return "", 0, false
	}
	return body[:end], 2*len(delim) + end, true
}

func isWordBefore(prefix string) bool {
	r, _ := utf8.DecodeLastRuneInString(prefix)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
