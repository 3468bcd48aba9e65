package fence

import "strings"

const (
	frontmatterDelim = "---"
	fenceOpen        = "```yaml"
	fenceClose       = "```"
)

// Encode converts raw markdown into its rendered form. A leading
// frontmatter block (a `---` delimiter line with a matching closing `---`
// line) is wrapped, delimiters inclusive, in a ```yaml code fence so the
// rich-text surface displays it as literal text instead of swallowing it.
// Input without a leading frontmatter block is returned unchanged.
func Encode(raw string) string {
	fm, rest, ok := splitFrontmatter(raw)
	if !ok {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw) + len(fenceOpen) + len(fenceClose) + 2)
	b.WriteString(fenceOpen)
	b.WriteByte('\n')
	b.WriteString(fm)
	b.WriteByte('\n')
	b.WriteString(fenceClose)
	b.WriteString(rest)
	return b.String()
}

// Decode converts rendered content back into raw markdown. A leading
// ```yaml fence whose first and last content lines are `---` is unwrapped
// verbatim, with exactly one blank line between the frontmatter and any
// body that follows.
//
// If the fence has been damaged by an edit (missing closer, missing
// delimiter lines, wrong tag) the whole input is returned unchanged: the
// content survives as body text and nothing is lost.
func Decode(rendered string) string {
	fm, rest, ok := splitFenced(rendered)
	if !ok {
		return rendered
	}

	body := strings.TrimLeft(rest, "\r\n")
	if body == "" {
		// No body: whatever trailing newlines the source had pass through.
		return fm + rest
	}
	return fm + "\n\n" + body
}

// HasFrontmatter reports whether raw markdown starts with a well-formed
// frontmatter block.
func HasFrontmatter(raw string) bool {
	_, _, ok := splitFrontmatter(raw)
	return ok
}

// splitFrontmatter splits raw markdown into its leading frontmatter span
// (delimiter lines inclusive, no trailing newline) and the remainder, which
// is either empty or begins with a newline. ok is false when there is no
// well-formed leading block.
func splitFrontmatter(raw string) (fm, rest string, ok bool) {
	line, next, more := firstLine(raw)
	if trimEOL(line) != frontmatterDelim {
		return "", "", false
	}
	if !more {
		// A lone delimiter line is a horizontal rule, not frontmatter.
		return "", "", false
	}

	pos := next
	for {
		line, next, more = firstLine(raw[pos:])
		if trimEOL(line) == frontmatterDelim {
			end := pos + len(line)
			return raw[:end], raw[end:], true
		}
		if !more {
			return "", "", false
		}
		pos += next
	}
}

// splitFenced splits rendered content into the frontmatter span inside a
// leading ```yaml fence and the remainder after the closing fence line.
func splitFenced(rendered string) (fm, rest string, ok bool) {
	line, next, more := firstLine(rendered)
	if trimEOL(line) != fenceOpen || !more {
		return "", "", false
	}

	contentStart := next
	pos := next
	for {
		line, lineNext, lineMore := firstLine(rendered[pos:])
		if trimEOL(line) == fenceClose {
			if pos == contentStart {
				return "", "", false // empty fence
			}
			content := rendered[contentStart : pos-1] // strip newline before the closer
			if !wellFormedFrontmatter(content) {
				return "", "", false
			}
			end := pos + len(line)
			return content, rendered[end:], true
		}
		if !lineMore {
			return "", "", false // unterminated fence
		}
		pos += lineNext
	}
}

// wellFormedFrontmatter reports whether content is at least two lines with
// `---` delimiters first and last.
func wellFormedFrontmatter(content string) bool {
	lines := strings.Split(content, "\n")
	if len(lines) < 2 {
		return false
	}
	return trimEOL(lines[0]) == frontmatterDelim && trimEOL(lines[len(lines)-1]) == frontmatterDelim
}

// firstLine returns the first line of s (without its newline), the offset
// of the byte following the newline, and whether a newline was present.
func firstLine(s string) (line string, next int, more bool) {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i], i + 1, true
	}
	return s, len(s), false
}

// trimEOL strips a trailing carriage return for delimiter comparison.
func trimEOL(line string) string {
	return strings.TrimSuffix(line, "\r")
}
