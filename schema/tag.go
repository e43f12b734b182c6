package schema

import "strings"

// Tag represents parsed "dao" struct tag options.
type Tag struct {
	Column string
	PK     bool
	Auto   bool
	JSON   bool
	Omit   bool
}

// ParseTag parses a "dao" tag string. Options are separated by spaces,
// semicolons or commas, e.g. `dao:"column:user_name"`, `dao:"pk;auto"`,
// `dao:"json"`, `dao:"-"`.
func ParseTag(tagStr string) *Tag {
	tag := &Tag{}
	if tagStr == "" {
		return tag
	}
	if tagStr == "-" {
		tag.Omit = true
		return tag
	}

	normalized := strings.Map(func(r rune) rune {
		if r == ';' || r == ',' {
			return ' '
		}
		return r
	}, tagStr)

	for _, part := range strings.Fields(normalized) {
		kv := strings.SplitN(part, ":", 2)
		key := strings.ToLower(kv[0])
		var val string
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}

		switch key {
		case "column":
			tag.Column = val
		case "pk":
			tag.PK = true
		case "auto":
			tag.Auto = true
		case "json":
			tag.JSON = true
		case "omit", "-":
			tag.Omit = true
		}
	}
	return tag
}
