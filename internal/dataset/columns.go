package dataset

import (
	"strconv"
	"strings"
	"unicode"
)

// NormalizeColumnNames turns raw headers into unique identifier-safe names.
func NormalizeColumnNames(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, header := range raw {
		name := NormalizeColumnName(header)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		key := strings.ToLower(name)
		if count, ok := seen[key]; ok {
			suffix := count + 1
			candidate := name + "_" + strconv.Itoa(suffix)
			for {
				if _, taken := seen[strings.ToLower(candidate)]; !taken {
					break
				}
				suffix++
				candidate = name + "_" + strconv.Itoa(suffix)
			}
			seen[key] = suffix
			name = candidate
			key = strings.ToLower(name)
		}
		seen[key] = 1
		out[i] = name
	}
	return out
}

func NormalizeColumnName(header string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range strings.TrimSpace(header) {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSpace = false
		if r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}
