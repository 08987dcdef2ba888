package dashboard

import (
	"fmt"
	"math"
	"strconv"
)

// ConnectorDuration is the period of the connector gradient loop.
const ConnectorDuration = "4s"

// Connector is a gradient-stroked line drawn between the source list and the
// overlay message pill.
type Connector struct {
	ViewBox string
	Path    string

	// Gradient endpoints animate from the first to the second value
	X1, Y1, X2, Y2 [2]float64
}

// Layout positions the connector inside a measured box of the given height.
// With no sources it runs down from the top-left; otherwise it climbs from
// below the pill.
func Layout(c ConnectorView, height float64) (top, lineHeight float64) {
	if c.TopLeft {
		return 20, height/2 - 50
	}
	return height/2 + 40, height/2 - 52
}

// NewConnector builds the connector for a measured box.
func NewConnector(c ConnectorView, width, height float64) Connector {
	top, h := Layout(c, height)
	return ConnectorPath(top, width, h, c.TopLeft)
}

// ConnectorPath returns the path and gradient animation of a connector line
// starting at top, spanning w and rising or falling by h.
func ConnectorPath(top, w, h float64, topLeft bool) Connector {
	head := math.Round(w * 0.7)
	tail := math.Round(w * 0.3)

	c := Connector{
		ViewBox: fmt.Sprintf("0 0 %s %s", num(w), num(4*h)),
		X1:      [2]float64{0, -2 * w},
		X2:      [2]float64{0, -w},
	}
	if topLeft {
		c.Path = fmt.Sprintf("M1 %sh%sa4 4 0 014 4v%sa4 4 0 004 4h%s",
			num(top), num(head), num(h-10), num(tail))
		c.Y1 = [2]float64{3 * h, -h}
		c.Y2 = [2]float64{4 * h, 0}
	} else {
		c.Path = fmt.Sprintf("M1 %sh%sa4 4 0 004-4v%sa4 4 0 014-4h%s",
			num(top+h), num(head), num(-h-2), num(tail))
		c.Y1 = [2]float64{-2 * h, 2 * h}
		c.Y2 = [2]float64{-3 * h, h}
	}
	return c
}

// Values formats an animation pair for an SVG <animate values> attribute.
func Values(v [2]float64) string {
	return num(v[0]) + ";" + num(v[1])
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
