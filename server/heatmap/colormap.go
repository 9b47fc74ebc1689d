package heatmap

import "github.com/sentinelcam/sentinel/pkg/gen"

// 256-entry RGB lookup tables for mapping normalized density to color
var colormaps = map[string]*[256][3]byte{}

func init() {
	colormaps["jet"] = buildLUT(jetColor)
	colormaps["hot"] = buildLUT(hotColor)
	colormaps["turbo"] = buildLUT(turboColor)
	colormaps["gray"] = buildLUT(func(v float64) (float64, float64, float64) {
		return v, v, v
	})
}

func buildLUT(f func(v float64) (r, g, b float64)) *[256][3]byte {
	lut := &[256][3]byte{}
	for i := 0; i < 256; i++ {
		r, g, b := f(float64(i) / 255)
		lut[i] = [3]byte{toByte(r), toByte(g), toByte(b)}
	}
	return lut
}

func toByte(v float64) byte {
	return byte(gen.Clamp(v, 0, 1)*255 + 0.5)
}

// Classic jet: blue through cyan, yellow and red
func jetColor(v float64) (float64, float64, float64) {
	r := gen.Clamp(1.5-gen.Abs(4*v-3), 0, 1)
	g := gen.Clamp(1.5-gen.Abs(4*v-2), 0, 1)
	b := gen.Clamp(1.5-gen.Abs(4*v-1), 0, 1)
	return r, g, b
}

// Black through red and yellow to white
func hotColor(v float64) (float64, float64, float64) {
	r := gen.Clamp(v*3, 0, 1)
	g := gen.Clamp(v*3-1, 0, 1)
	b := gen.Clamp(v*3-2, 0, 1)
	return r, g, b
}

// Polynomial fit of the Turbo colormap
func turboColor(v float64) (float64, float64, float64) {
	r := 0.1357 + v*(4.5974+v*(-42.3277+v*(130.5887+v*(-150.5666+v*58.1375))))
	g := 0.0914 + v*(2.1856+v*(4.8052+v*(-14.0195+v*(4.2109+v*2.7747))))
	b := 0.1067 + v*(12.5925+v*(-60.1097+v*(109.0745+v*(-88.5066+v*26.8183))))
	return r, g, b
}
