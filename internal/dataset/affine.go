package dataset

import (
	"math"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
)

// Affine maps (x, y) to (A·x + B·y + C, D·x + E·y + F).
type Affine [6]float64

// Identity is the affine identity.
var Identity = Affine{1, 0, 0, 0, 1, 0}

// Apply maps one point.
func (m Affine) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Then returns the transform that applies m first and n second.
func (m Affine) Then(n Affine) Affine {
	return Affine{
		n[0]*m[0] + n[1]*m[3], n[0]*m[1] + n[1]*m[4], n[0]*m[2] + n[1]*m[5] + n[2],
		n[3]*m[0] + n[4]*m[3], n[3]*m[1] + n[4]*m[4], n[3]*m[2] + n[4]*m[5] + n[5],
	}
}

// Invert returns the inverse transform. Singular matrices yield Identity.
func (m Affine) Invert() Affine {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 {
		return Identity
	}
	a, b, d, e := m[4]/det, -m[1]/det, -m[3]/det, m[0]/det
	return Affine{a, b, -(a*m[2] + b*m[5]), d, e, -(d*m[2] + e*m[5])}
}

// IsIdentity reports whether m leaves every point in place.
func (m Affine) IsIdentity() bool { return m == Identity }

func scaleAffine(sx, sy float64) Affine { return Affine{sx, 0, 0, 0, sy, 0} }

func translateAffine(tx, ty float64) Affine { return Affine{1, 0, tx, 0, 1, ty} }

// hflipAffine mirrors around the vertical center line of a w-wide image.
func hflipAffine(w float64) Affine { return Affine{-1, 0, w, 0, 1, 0} }

// vflipAffine mirrors around the horizontal center line of an h-tall image.
func vflipAffine(h float64) Affine { return Affine{1, 0, 0, 0, -1, h} }

// rotateAffine rotates by deg degrees counter-clockwise (as displayed)
// around (cx, cy).
func rotateAffine(deg, cx, cy float64) Affine {
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	r := Affine{cos, sin, 0, -sin, cos, 0}
	return translateAffine(-cx, -cy).Then(r).Then(translateAffine(cx, cy))
}

// cropAffine maps the crop window (x, y, w, h) onto an outW×outH canvas.
func cropAffine(x, y, w, h, outW, outH float64) Affine {
	return translateAffine(-x, -y).Then(scaleAffine(outW/w, outH/h))
}

// warpTensor resamples src through forward transform m onto a w×h canvas
// with bilinear interpolation. Pixels mapping outside src are zero.
func warpTensor(src Tensor, m Affine, w, h int) Tensor {
	if m.IsIdentity() && w == src.W && h == src.H {
		return src.Clone()
	}
	inv := m.Invert()
	dst := NewTensor(src.C, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := inv.Apply(float64(x)+0.5, float64(y)+0.5)
			sx -= 0.5
			sy -= 0.5
			x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
			fx, fy := float32(sx-float64(x0)), float32(sy-float64(y0))
			for c := 0; c < src.C; c++ {
				v := (1-fx)*(1-fy)*sampleAt(src, c, y0, x0) +
					fx*(1-fy)*sampleAt(src, c, y0, x0+1) +
					(1-fx)*fy*sampleAt(src, c, y0+1, x0) +
					fx*fy*sampleAt(src, c, y0+1, x0+1)
				dst.Set(c, y, x, v)
			}
		}
	}
	return dst
}

func sampleAt(t Tensor, c, y, x int) float32 {
	if x < 0 || y < 0 || x >= t.W || y >= t.H {
		return 0
	}
	return t.At(c, y, x)
}

// transformAnnotations maps annotation geometry through m onto a w×h canvas.
// Boxes become the enclosing box of their transformed corners, clipped to
// the canvas; annotations whose box vanishes are dropped. Polygons are
// mapped point by point. Masks are resampled with nearest-neighbor lookup
// from their original origW×origH frame. The input is not modified.
func transformAnnotations(anns []coco.Annotation, m Affine, origW, origH, w, h int) []coco.Annotation {
	out := make([]coco.Annotation, 0, len(anns))
	for _, a := range anns {
		a = a.Clone()
		if a.BBox != nil {
			b := transformBox(*a.BBox, m).Clip(float64(w), float64(h))
			if b.Degenerate() {
				continue
			}
			a.BBox = &b
			a.Area = b.Area()
		}
		if seg := a.Segmentation; seg != nil {
			area := 0.0
			for _, poly := range seg.Polygons {
				for j := 0; j+1 < len(poly); j += 2 {
					poly[j], poly[j+1] = m.Apply(poly[j], poly[j+1])
				}
				area += polygonArea(poly)
			}
			if seg.RLE != nil {
				if src, ok := decodeRLE(seg.RLE, origW, origH); ok {
					warped := warpMask(src, m, w, h)
					rle := encodeRLE(warped)
					if seg.RLE.Compressed != "" {
						rle.Compressed, rle.Counts = compressCounts(rle.Counts), nil
					}
					seg.RLE = rle
					area = float64(warped.count())
				}
			}
			if area > 0 || a.BBox == nil {
				a.Area = area
			}
		}
		out = append(out, a)
	}
	return out
}

// polygonArea is the shoelace area of a flat x,y coordinate list.
func polygonArea(poly []float64) float64 {
	n := len(poly) / 2
	if n < 3 {
		return 0
	}
	s := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		s += poly[2*i]*poly[2*j+1] - poly[2*j]*poly[2*i+1]
	}
	return math.Abs(s) / 2
}

func transformBox(b coco.BBox, m Affine) coco.BBox {
	xs := [4]float64{b.X(), b.Right(), b.X(), b.Right()}
	ys := [4]float64{b.Y(), b.Y(), b.Bottom(), b.Bottom()}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := range xs {
		x, y := m.Apply(xs[i], ys[i])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return coco.BBox{minX, minY, maxX - minX, maxY - minY}
}
