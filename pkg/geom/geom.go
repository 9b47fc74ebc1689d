package geom

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y))
}

// Rect is an axis-aligned box in pixel space, stored as top-left corner
// plus an inclusive extent. X2/Y2 are the bottom-right corner.
type Rect struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func MakeRect(x1, y1, x2, y2 float32) Rect {
	return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func (r Rect) Width() float32 {
	return r.X2 - r.X1
}

func (r Rect) Height() float32 {
	return r.Y2 - r.Y1
}

func (r Rect) Area() float32 {
	return max(0, r.Width()) * max(0, r.Height())
}

func (r Rect) IsZero() bool {
	return r == Rect{}
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X1, b.X1)
	y1 := max(r.Y1, b.Y1)
	x2 := min(r.X2, b.X2)
	y2 := min(r.Y2, b.Y2)
	if x2 < x1 || y2 < y1 {
		return Rect{}
	}
	return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func (r Rect) Union(b Rect) Rect {
	return Rect{
		X1: min(r.X1, b.X1),
		Y1: min(r.Y1, b.Y1),
		X2: max(r.X2, b.X2),
		Y2: max(r.Y2, b.Y2),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b).Area()
	union := r.Area() + b.Area() - intersection
	if union == 0 {
		return 0
	}
	return intersection / union
}

func (r Rect) Center() Point {
	return Point{
		X: (r.X1 + r.X2) / 2,
		Y: (r.Y1 + r.Y2) / 2,
	}
}

// Array returns the box as [x1,y1,x2,y2], the wire shape used in exports
func (r Rect) Array() [4]float32 {
	return [4]float32{r.X1, r.Y1, r.X2, r.Y2}
}

func (r *Rect) Offset(dx, dy float32) {
	r.X1 += dx
	r.Y1 += dy
	r.X2 += dx
	r.Y2 += dy
}
