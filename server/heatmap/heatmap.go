// Package heatmap accumulates entity centroids into a spatial grid and
// renders a blurred, color-mapped density image on demand.
package heatmap

import (
	"fmt"
	"math"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/stats"
)

type Config struct {
	CellSize int     `json:"cellSize"` // grid cell size in pixels
	Colormap string  `json:"colormap"` // jet, hot, turbo, gray
	Alpha    float32 `json:"alpha"`    // overlay transparency for annotated frames
}

func DefaultConfig() Config {
	return Config{
		CellSize: 32,
		Colormap: "jet",
		Alpha:    0.4,
	}
}

func (c Config) Validate() error {
	if c.CellSize <= 0 {
		return fmt.Errorf("heatmap: cellSize %v must be positive", c.CellSize)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("heatmap: alpha %v must be inside [0,1]", c.Alpha)
	}
	if _, ok := colormaps[c.Colormap]; !ok {
		return fmt.Errorf("heatmap: unknown colormap %q", c.Colormap)
	}
	return nil
}

type Stats struct {
	TotalDetections int64  `json:"totalDetections"`
	ActiveCells     int    `json:"activeCells"`
	GridSize        [2]int `json:"gridSize"` // width, height in cells
	CellSize        int    `json:"cellSize"`
	MaxDensity      float32 `json:"maxDensity"`
	MeanDensity     float32 `json:"meanDensity"`
}

type Hotspot struct {
	X int `json:"x"` // cell center, pixel space
	Y int `json:"y"`
}

// Accumulator owns one density grid sized to a frame extent.
// One accumulator per camera. Not safe for concurrent use.
type Accumulator struct {
	log             logs.Log
	cfg             Config
	frameWidth      int
	frameHeight     int
	gridW           int
	gridH           int
	cells           []float32 // row-major [gridH][gridW]
	totalDetections int64
	lut             *[256][3]byte
}

func NewAccumulator(log logs.Log, frameWidth, frameHeight int, cfg Config) (*Accumulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gridW := frameWidth / cfg.CellSize
	gridH := frameHeight / cfg.CellSize
	if gridW < 1 || gridH < 1 {
		return nil, fmt.Errorf("heatmap: frame %vx%v is smaller than one %vpx cell", frameWidth, frameHeight, cfg.CellSize)
	}
	return &Accumulator{
		log:         log,
		cfg:         cfg,
		frameWidth:  frameWidth,
		frameHeight: frameHeight,
		gridW:       gridW,
		gridH:       gridH,
		cells:       make([]float32, gridW*gridH),
		lut:         colormaps[cfg.Colormap],
	}, nil
}

// Add accumulates one centroid. Out-of-bounds coordinates are ignored and
// do not count towards TotalDetections.
func (a *Accumulator) Add(x, y float32) {
	cellX := int(x) / a.cfg.CellSize
	cellY := int(y) / a.cfg.CellSize
	if x < 0 || y < 0 || cellX >= a.gridW || cellY >= a.gridH {
		return
	}
	a.cells[cellY*a.gridW+cellX]++
	a.totalDetections++
}

// Render produces a color-mapped density image at frame resolution.
// With no accumulated detections the image is all black.
func (a *Accumulator) Render(applyBlur bool) *cimg.Image {
	out := cimg.NewImage(a.frameWidth, a.frameHeight, cimg.PixelFormatRGB)
	if a.totalDetections == 0 {
		return out
	}

	// Min-max normalize the grid to 0..255
	minV, maxV := a.cells[0], a.cells[0]
	for _, v := range a.cells {
		minV = min(minV, v)
		maxV = max(maxV, v)
	}
	scale := float32(0)
	if maxV > minV {
		scale = 255 / (maxV - minV)
	}
	gray := make([]float32, len(a.cells))
	for i, v := range a.cells {
		gray[i] = (v - minV) * scale
	}

	if applyBlur {
		gray = blurGrid(gray, a.gridW, a.gridH, blurKernelSize(a.cfg.CellSize))
	}

	// Upsample to frame resolution via cimg, then color-map
	small := cimg.NewImage(a.gridW, a.gridH, cimg.PixelFormatRGB)
	for i, v := range gray {
		g := byte(min(max(v, 0), 255))
		small.Pixels[i*3+0] = g
		small.Pixels[i*3+1] = g
		small.Pixels[i*3+2] = g
	}
	resizeParams := cimg.ResizeParams{CheapSRGBFilter: true}
	big := cimg.ResizeNew(small, a.frameWidth, a.frameHeight, &resizeParams)
	for i := 0; i < a.frameWidth*a.frameHeight; i++ {
		c := a.lut[big.Pixels[i*3]]
		out.Pixels[i*3+0] = c[0]
		out.Pixels[i*3+1] = c[1]
		out.Pixels[i*3+2] = c[2]
	}
	return out
}

// RenderJPEG renders the heatmap and encodes it
func (a *Accumulator) RenderJPEG(quality int) ([]byte, error) {
	img := a.Render(true)
	return cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}

func (a *Accumulator) Stats() Stats {
	s := Stats{
		TotalDetections: a.totalDetections,
		GridSize:        [2]int{a.gridW, a.gridH},
		CellSize:        a.cfg.CellSize,
	}
	sum := float32(0)
	for _, v := range a.cells {
		if v != 0 {
			s.ActiveCells++
		}
		s.MaxDensity = max(s.MaxDensity, v)
		sum += v
	}
	s.MeanDensity = sum / float32(len(a.cells))
	return s
}

// Hotspots returns the pixel-space centers of all cells whose density is at
// or above the given percentile of the whole grid.
func (a *Accumulator) Hotspots(percentile float64) []Hotspot {
	if a.totalDetections == 0 {
		return nil
	}
	threshold := float32(stats.Percentile(a.cells, percentile))
	spots := []Hotspot{}
	for y := 0; y < a.gridH; y++ {
		for x := 0; x < a.gridW; x++ {
			if a.cells[y*a.gridW+x] >= threshold {
				spots = append(spots, Hotspot{
					X: int((float32(x) + 0.5) * float32(a.cfg.CellSize)),
					Y: int((float32(y) + 0.5) * float32(a.cfg.CellSize)),
				})
			}
		}
	}
	return spots
}

func (a *Accumulator) TotalDetections() int64 {
	return a.totalDetections
}

func (a *Accumulator) Alpha() float32 {
	return a.cfg.Alpha
}

func (a *Accumulator) Reset() {
	for i := range a.cells {
		a.cells[i] = 0
	}
	a.totalDetections = 0
}

func blurKernelSize(cellSize int) int {
	k := max(3, cellSize/4)
	if k%2 == 0 {
		k++
	}
	return k
}

// Separable gaussian blur over the grid, with edge clamping
func blurGrid(src []float32, w, h, kernelSize int) []float32 {
	kernel := gaussianKernel(kernelSize)
	r := kernelSize / 2
	tmp := make([]float32, len(src))
	dst := make([]float32, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := float32(0)
			for k := -r; k <= r; k++ {
				xs := min(max(x+k, 0), w-1)
				sum += src[y*w+xs] * kernel[k+r]
			}
			tmp[y*w+x] = sum
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := float32(0)
			for k := -r; k <= r; k++ {
				ys := min(max(y+k, 0), h-1)
				sum += tmp[ys*w+x] * kernel[k+r]
			}
			dst[y*w+x] = sum
		}
	}
	return dst
}

func gaussianKernel(size int) []float32 {
	// Sigma for a given kernel size, same rule OpenCV uses
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	kernel := make([]float32, size)
	r := size / 2
	sum := float32(0)
	for i := 0; i < size; i++ {
		d := float64(i - r)
		v := float32(gaussian(d, sigma))
		kernel[i] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func gaussian(d, sigma float64) float64 {
	return math.Exp(-(d * d) / (2 * sigma * sigma))
}
