package pipeline

import (
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"
	"github.com/sentinelcam/sentinel/server/analysis"
)

// Box colors per action, RGB 0..1
var actionColors = map[analysis.Action][3]float64{
	analysis.ActionStanding:  {0.7, 0.7, 0.7},
	analysis.ActionWalking:   {0.2, 0.8, 0.2},
	analysis.ActionRunning:   {0.95, 0.85, 0.1},
	analysis.ActionLoitering: {0.95, 0.55, 0.1},
	analysis.ActionFallen:    {0.9, 0.1, 0.1},
}

// annotate draws track boxes, ids and action labels over the frame, plus a
// translucent heatmap overlay when the accumulator has data.
func (e *Engine) annotate(src *cimg.Image, result *FrameResult) *cimg.Image {
	rgba := toRGBA(src)

	if e.heat.TotalDetections() > 0 {
		overlayHeatmap(rgba, e.heat.Render(true), e.heat.Alpha())
	}

	dc := gg.NewContextForRGBA(rgba)
	dc.SetLineWidth(2)

	for _, snap := range result.Snapshots {
		c := actionColors[snap.Action]
		dc.SetRGB(c[0], c[1], c[2])
		dc.DrawRectangle(float64(snap.Box.X1), float64(snap.Box.Y1), float64(snap.Box.Width()), float64(snap.Box.Height()))
		dc.Stroke()
		dc.DrawString(fmt.Sprintf("#%v %v", snap.TrackID, snap.Action), float64(snap.Box.X1), float64(snap.Box.Y1)-4)
	}

	fps := e.perf.Report().FPS
	dc.SetRGB(1, 1, 1)
	dc.DrawString(fmt.Sprintf("%.1f fps", fps), 8, 20)

	return fromRGBA(rgba)
}

func toRGBA(src *cimg.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			s := y*src.Stride + x*3
			d := y*dst.Stride + x*4
			dst.Pix[d+0] = src.Pixels[s+0]
			dst.Pix[d+1] = src.Pixels[s+1]
			dst.Pix[d+2] = src.Pixels[s+2]
			dst.Pix[d+3] = 255
		}
	}
	return dst
}

func fromRGBA(src *image.RGBA) *cimg.Image {
	dst := cimg.NewImage(src.Rect.Dx(), src.Rect.Dy(), cimg.PixelFormatRGB)
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			s := y*src.Stride + x*4
			d := y*dst.Stride + x*3
			dst.Pixels[d+0] = src.Pix[s+0]
			dst.Pixels[d+1] = src.Pix[s+1]
			dst.Pixels[d+2] = src.Pix[s+2]
		}
	}
	return dst
}

// Alpha-blend the heatmap over the frame
func overlayHeatmap(dst *image.RGBA, heat *cimg.Image, alpha float32) {
	for y := 0; y < heat.Height; y++ {
		for x := 0; x < heat.Width; x++ {
			s := y*heat.Stride + x*3
			d := y*dst.Stride + x*4
			for c := 0; c < 3; c++ {
				v := float32(dst.Pix[d+c])*(1-alpha) + float32(heat.Pixels[s+c])*alpha
				dst.Pix[d+c] = byte(v)
			}
		}
	}
}
