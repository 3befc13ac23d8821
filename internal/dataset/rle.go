package dataset

import (
	"math"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
)

// mask is a binary mask in row-major order.
type mask struct {
	w, h int
	bits []bool
}

// decodeRLE expands a COCO run-length mask. COCO runs are column-major and
// start with a zero run. The mask size falls back to w×h when unset.
func decodeRLE(r *coco.RLE, w, h int) (mask, bool) {
	counts := r.Counts
	if r.Compressed != "" {
		counts = decompressCounts(r.Compressed)
	}
	mh, mw := r.Size[0], r.Size[1]
	if mh <= 0 || mw <= 0 {
		mh, mw = h, w
	}
	if mh <= 0 || mw <= 0 || len(counts) == 0 {
		return mask{}, false
	}
	m := mask{w: mw, h: mh, bits: make([]bool, mw*mh)}
	pos, on := 0, false
	for _, c := range counts {
		for j := 0; j < c && pos < mw*mh; j++ {
			if on {
				x, y := pos/mh, pos%mh
				m.bits[y*mw+x] = true
			}
			pos++
		}
		on = !on
	}
	return m, true
}

// encodeRLE produces uncompressed column-major counts.
func encodeRLE(m mask) *coco.RLE {
	var counts []int
	run, on := 0, false
	for x := 0; x < m.w; x++ {
		for y := 0; y < m.h; y++ {
			if m.bits[y*m.w+x] != on {
				counts = append(counts, run)
				run, on = 0, !on
			}
			run++
		}
	}
	counts = append(counts, run)
	return &coco.RLE{Size: [2]int{m.h, m.w}, Counts: counts}
}

// decompressCounts decodes the pycocotools string form: 6-bit groups with a
// continuation bit, sign-extended, delta coded against the count two back.
func decompressCounts(s string) []int {
	var counts []int
	for p := 0; p < len(s); {
		x, k, more := 0, 0, true
		for more && p < len(s) {
			c := int(s[p]) - 48
			x |= (c & 0x1f) << (5 * k)
			more = c&0x20 != 0
			p++
			k++
			if !more && c&0x10 != 0 {
				x |= -1 << (5 * k)
			}
		}
		if len(counts) > 2 {
			x += counts[len(counts)-2]
		}
		counts = append(counts, x)
	}
	return counts
}

// compressCounts is the inverse of decompressCounts.
func compressCounts(counts []int) string {
	var out []byte
	for i, x := range counts {
		if i > 2 {
			x -= counts[i-2]
		}
		for more := true; more; {
			c := x & 0x1f
			x >>= 5
			if c&0x10 != 0 {
				more = x != -1
			} else {
				more = x != 0
			}
			if more {
				c |= 0x20
			}
			out = append(out, byte(c+48))
		}
	}
	return string(out)
}

// warpMask resamples m through forward transform t onto a w×h mask with
// nearest-neighbor lookup.
func warpMask(m mask, t Affine, w, h int) mask {
	inv := t.Invert()
	out := mask{w: w, h: h, bits: make([]bool, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := inv.Apply(float64(x)+0.5, float64(y)+0.5)
			ix, iy := int(math.Floor(sx)), int(math.Floor(sy))
			if ix >= 0 && iy >= 0 && ix < m.w && iy < m.h {
				out.bits[y*w+x] = m.bits[iy*m.w+ix]
			}
		}
	}
	return out
}

func (m mask) count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}
