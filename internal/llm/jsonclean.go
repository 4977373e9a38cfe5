// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"regexp"
	"strings"
)

var (
	thinkBlock     = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkTruncated = regexp.MustCompile(`(?s)<think>.*`)
	codeFence      = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
	trailingArray  = regexp.MustCompile(`,\s*]`)
	trailingObject = regexp.MustCompile(`,\s*}`)
)

// CleanJSON extracts a JSON document from a model reply. It removes
// reasoning blocks (closed or truncated), unwraps a fenced code block,
// skips prose before the first '{' or '[', drops trailing commas, restores
// missing opening quotes on object keys, and closes a final unterminated
// string. The result is not guaranteed to be valid JSON.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	text = strings.TrimSpace(thinkBlock.ReplaceAllString(text, ""))
	if strings.Contains(text, "<think>") {
		text = strings.TrimSpace(thinkTruncated.ReplaceAllString(text, ""))
	}

	if strings.Contains(text, "```") {
		if m := codeFence.FindStringSubmatch(text); m != nil {
			text = strings.TrimSpace(m[1])
		}
	}

	if text != "" && text[0] != '{' && text[0] != '[' {
		if i := strings.IndexAny(text, "{["); i >= 0 {
			text = text[i:]
		}
	}

	text = trailingArray.ReplaceAllString(text, "]")
	text = trailingObject.ReplaceAllString(text, "}")

	text = repairKeys(text)
	return closeString(text)
}

// closeString terminates the last string literal when the reply has an odd
// number of unescaped quotes. The quote goes before the next structural
// character; when none follows, it is appended and the outer bracket closed.
func closeString(text string) string {
	last := -1
	count := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '"' && (i == 0 || text[i-1] != '\\') {
			last = i
			count++
		}
	}
	if count%2 == 0 {
		return text
	}

	if j := strings.IndexAny(text[last+1:], ",}]\n"); j >= 0 {
		j += last + 1
		return text[:j] + `"` + text[j:]
	}

	text = strings.TrimRight(text, " \t\r\n") + `"`
	switch {
	case strings.HasPrefix(text, "[") && !strings.HasSuffix(text, "]"):
		text += "]"
	case strings.HasPrefix(text, "{") && !strings.HasSuffix(text, "}"):
		text += "}"
	}
	return text
}

// repairKeys restores a missing opening quote before object keys, turning
// `{ type": 1` into `{ "type": 1`.
func repairKeys(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)

	i := 0
	for i < len(in) {
		ch := in[i]
		out = append(out, ch)
		i++
		if ch != '{' && ch != ',' {
			continue
		}

		for i < len(in) && (in[i] == ' ' || in[i] == '\n' || in[i] == '\t') {
			out = append(out, in[i])
			i++
		}
		if i >= len(in) || !isLetter(in[i]) {
			continue
		}

		start := i
		for i < len(in) && (isLetter(in[i]) || in[i] == '_' || in[i] == ' ') {
			i++
		}
		if i+1 < len(in) && in[i] == '"' && in[i+1] == ':' {
			out = append(out, '"')
			out = append(out, []rune(strings.TrimSpace(string(in[start:i])))...)
			continue
		}
		out = append(out, in[start:i]...)
	}
	return string(out)
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
