package terminal

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
)

// ParseColor accepts the CSS forms entities carry: "hsl(h, s%, l%)" and
// "#rrggbb".
func ParseColor(s string) (tcell.Color, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return tcell.ColorDefault, false
		}
		return toTcell(c), true
	}

	var h, sat, l float64
	if _, err := fmt.Sscanf(strings.ReplaceAll(s, " ", ""), "hsl(%g,%g%%,%g%%)", &h, &sat, &l); err != nil {
		return tcell.ColorDefault, false
	}
	return toTcell(colorful.Hsl(h, sat/100, l/100).Clamped()), true
}

func toTcell(c colorful.Color) tcell.Color {
	r, g, b := c.RGB255()
	return tcell.NewRGBColor(int32(r), int32(g), int32(b))
}
