package dataset

import (
	"strconv"
	"strings"
	"time"
)

var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 15:04:05",
}

// InferType picks the narrowest type that parses every non-empty cell, in the
// order integer, float, boolean, datetime, text. An all-empty column is text.
func InferType(cells []string) SemanticType {
	candidates := []SemanticType{TypeInteger, TypeFloat, TypeBoolean, TypeDatetime}
	seen := false
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		seen = true
		remaining := candidates[:0]
		for _, candidate := range candidates {
			if _, ok := parseCell(candidate, cell); ok {
				remaining = append(remaining, candidate)
			}
		}
		candidates = remaining
		if len(candidates) == 0 {
			return TypeText
		}
	}
	if !seen {
		return TypeText
	}
	return candidates[0]
}

// ConvertCell parses a trimmed cell as typ. Empty cells become nil.
func ConvertCell(typ SemanticType, cell string) any {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	if value, ok := parseCell(typ, cell); ok {
		return value
	}
	return cell
}

func parseCell(typ SemanticType, cell string) (any, bool) {
	switch typ {
	case TypeInteger:
		value, err := strconv.ParseInt(cell, 10, 64)
		return value, err == nil
	case TypeFloat:
		if !strings.ContainsAny(cell, "0123456789") {
			return nil, false
		}
		value, err := strconv.ParseFloat(cell, 64)
		return value, err == nil
	case TypeBoolean:
		switch strings.ToLower(cell) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
		return nil, false
	case TypeDatetime:
		for _, layout := range datetimeLayouts {
			if value, err := time.Parse(layout, cell); err == nil {
				return value.UTC(), true
			}
		}
		return nil, false
	default:
		return cell, true
	}
}
