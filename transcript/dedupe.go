package transcript

import "strings"

// collapseEcho undoes the generator's habit of repeating its own output.
// A buffer made of two identical halves keeps the first one; a buffer whose
// distinct non-blank lines fall under 70% of all non-blank lines keeps each
// distinct line once, in first-seen order.
func collapseEcho(buf string) string {
	if n := len(buf); n%2 == 0 && strings.TrimSpace(buf) != "" && buf[:n/2] == buf[n/2:] {
		buf = buf[:n/2]
	}

	lines := nonBlankLines(buf)
	distinct := dedupeLines(lines)
	if len(distinct)*10 < len(lines)*7 {
		return strings.Join(distinct, "\n")
	}
	return buf
}

func nonBlankLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func dedupeLines(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
