package margin

// Theme defines semantic color mappings using ANSI color indices (0-15).
// The user's terminal theme determines the actual RGB values, so the app
// automatically matches any color scheme. A negative index means no color.
type Theme struct {
	UserMsg int // User message accent
	Error   int // Error messages and interrupted replies
	Success int // Signed-in indicator
	Demo    int // Demo session badge
	Muted   int // Status bar, placeholders, code gutters
	Accent  int // Headings, links
}

// DefaultTheme returns the default ANSI color mapping.
func DefaultTheme() Theme {
	return Theme{
		UserMsg: 4,
		Error:   1,
		Success: 2,
		Demo:    3,
		Muted:   8,
		Accent:  5,
	}
}
