package domain

import "strings"

// defaultPalette is the fixed chart palette, cycled by stage position when
// no explicit color or keyword match applies.
var defaultPalette = []string{
	"#4e73df", // primary blue
	"#1cc88a", // success green
	"#36b9cc", // info teal
	"#f6c23e", // warning yellow
	"#e74a3b", // danger red
	"#6f42c1", // purple
	"#fd7e14", // orange
	"#20c9a6", // teal
	"#5a5c69", // gray
	"#858796", // light gray
}

// keywordColors maps normalized canonical stage names to their
// conventional display colors.
var keywordColors = map[string]string{
	"promotion":    "#4e73df",
	"information":  "#1cc88a",
	"invitation":   "#36b9cc",
	"confirmation": "#f6c23e",
	"en42":         "#e74a3b",
	"automation":   "#6f42c1",
}

// StageColor resolves the display color for a stage: the explicit color if
// set, else a keyword default keyed by the normalized stage name, else the
// fixed palette cycled by position.
func StageColor(s Stage, position int) string {
	if s.Color != "" {
		return s.Color
	}
	if c, ok := keywordColors[strings.ToLower(strings.TrimSpace(s.Name))]; ok {
		return c
	}
	if position < 0 {
		position = 0
	}
	return defaultPalette[position%len(defaultPalette)]
}
