package pastel

import (
	"hash/fnv"
	"math"

	"github.com/google/uuid"
)

// colorFromID picks a pastel hue from the id hash: full value, half saturation.
func colorFromID(id uuid.UUID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	hue := float64(h.Sum32()%3600) / 10
	return hsvToRGB(hue, 0.5, 1.0)
}

func hsvToRGB(h, s, v float64) uint32 {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to8 := func(f float64) uint32 { return uint32(math.Round((f + m) * 255)) }
	return to8(r)<<16 | to8(g)<<8 | to8(b)
}
