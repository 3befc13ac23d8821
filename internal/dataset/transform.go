package dataset

import (
	"image"
	"math"
	"math/rand/v2"

	"golang.org/x/image/draw"

	"github.com/idlab-discover/visionprep-cli/internal/coco"
	"github.com/idlab-discover/visionprep-cli/internal/runconfig"
)

// ImageNet statistics, used when a config leaves mean/std unset.
var (
	ImageNetMean = [3]float64{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float64{0.229, 0.224, 0.225}
)

// Jitter holds maximum color perturbations. Brightness, contrast and
// saturation factors are drawn from [max(0, 1-v), 1+v]; hue shifts from
// [-Hue, Hue] in fractions of a full turn.
type Jitter struct {
	Brightness, Contrast, Saturation, Hue float64
}

// CropRange bounds a random-resized crop by area fraction and aspect ratio.
type CropRange struct {
	Scale [2]float64
	Ratio [2]float64
}

// DefaultCrop matches the usual RandomResizedCrop bounds.
var DefaultCrop = CropRange{Scale: [2]float64{0.08, 1}, Ratio: [2]float64{3.0 / 4, 4.0 / 3}}

// Augment selects the random augmentations applied per sample.
type Augment struct {
	HorizontalFlip bool
	VerticalFlip   bool
	Rotation       float64
	Jitter         *Jitter
	Crop           *CropRange
}

// Enabled reports whether any augmentation is active.
func (a Augment) Enabled() bool {
	return a.HorizontalFlip || a.VerticalFlip || a.Rotation > 0 || a.Jitter != nil || a.Crop != nil
}

// TransformConfig is the per-sample preprocessing chain:
// resize, geometric augmentation, color augmentation, normalize.
type TransformConfig struct {
	// ImageSize is the square output edge; 0 keeps the source size.
	ImageSize int
	Mean      [3]float64
	Std       [3]float64
	Augment   Augment
}

// FromRunConfig derives the transform chain for one split. Augmentation is
// only applied to the training split.
func FromRunConfig(cfg *runconfig.RunConfig, split string) TransformConfig {
	d := cfg.Data
	tc := TransformConfig{
		ImageSize: d.ImageSize,
		Mean:      triple(d.Mean, ImageNetMean),
		Std:       triple(d.Std, ImageNetStd),
	}
	if split != "train" {
		return tc
	}
	a := d.Augment
	tc.Augment = Augment{HorizontalFlip: a.HorizontalFlip, VerticalFlip: a.VerticalFlip, Rotation: a.Rotation}
	if j := a.ColorJitter; j != nil {
		tc.Augment.Jitter = &Jitter{Brightness: j.Brightness, Contrast: j.Contrast, Saturation: j.Saturation, Hue: j.Hue}
	}
	if c := a.RandomResizedCrop; c != nil {
		cr := DefaultCrop
		if len(c.Scale) == 2 {
			cr.Scale = [2]float64{c.Scale[0], c.Scale[1]}
		}
		if len(c.Ratio) == 2 {
			cr.Ratio = [2]float64{c.Ratio[0], c.Ratio[1]}
		}
		tc.Augment.Crop = &cr
	}
	return tc
}

func triple(v []float64, def [3]float64) [3]float64 {
	if len(v) != 3 {
		return def
	}
	return [3]float64{v[0], v[1], v[2]}
}

// Apply runs the chain on one decoded image and its annotations. rng drives
// every random choice, so equal seeds give equal outputs. anns is not
// modified.
func (tc TransformConfig) Apply(img image.Image, anns []coco.Annotation, rng *rand.Rand) (Tensor, []coco.Annotation) {
	b := img.Bounds()
	ow, oh := b.Dx(), b.Dy()
	resized := Resize(img, tc.ImageSize)
	w, h := resized.Bounds().Dx(), resized.Bounds().Dy()

	geo := tc.Augment.sampleGeometry(rng, float64(w), float64(h))
	t := FromImage(resized)
	if !geo.IsIdentity() {
		t = warpTensor(t, geo, w, h)
	}
	resize := scaleAffine(float64(w)/float64(ow), float64(h)/float64(oh))
	out := transformAnnotations(anns, resize.Then(geo), ow, oh, w, h)

	if tc.Augment.Jitter != nil {
		tc.Augment.Jitter.apply(t, rng)
	}
	t.normalize(tc.Mean, tc.Std)
	return t, out
}

// Resize scales img to size×size with bilinear interpolation. A size of 0
// only converts to RGBA.
func Resize(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	if size <= 0 {
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// sampleGeometry composes crop, flips and rotation on a w×h canvas. The
// random draws happen in a fixed order.
func (a Augment) sampleGeometry(rng *rand.Rand, w, h float64) Affine {
	m := Identity
	if a.Crop != nil {
		x, y, cw, ch := a.Crop.sample(rng, w, h)
		m = m.Then(cropAffine(x, y, cw, ch, w, h))
	}
	if a.HorizontalFlip && rng.Float64() < 0.5 {
		m = m.Then(hflipAffine(w))
	}
	if a.VerticalFlip && rng.Float64() < 0.5 {
		m = m.Then(vflipAffine(h))
	}
	if a.Rotation > 0 {
		if deg := uniform(rng, -a.Rotation, a.Rotation); deg != 0 {
			m = m.Then(rotateAffine(deg, w/2, h/2))
		}
	}
	return m
}

// sample picks a crop window, retrying up to ten times before falling back
// to the whole canvas.
func (c CropRange) sample(rng *rand.Rand, w, h float64) (x, y, cw, ch float64) {
	area := w * h
	logLo, logHi := math.Log(c.Ratio[0]), math.Log(c.Ratio[1])
	for range 10 {
		target := area * uniform(rng, c.Scale[0], c.Scale[1])
		ratio := math.Exp(uniform(rng, logLo, logHi))
		cw = math.Round(math.Sqrt(target * ratio))
		ch = math.Round(math.Sqrt(target / ratio))
		if cw > 0 && ch > 0 && cw <= w && ch <= h {
			x = math.Floor(rng.Float64() * (w - cw + 1))
			y = math.Floor(rng.Float64() * (h - ch + 1))
			return x, y, cw, ch
		}
	}
	return 0, 0, w, h
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

func jitterFactor(rng *rand.Rand, v float64) float64 {
	if v <= 0 {
		return 1
	}
	return uniform(rng, math.Max(0, 1-v), 1+v)
}

// apply perturbs t (values in [0, 1]) in place, in the order brightness,
// contrast, saturation, hue.
func (j *Jitter) apply(t Tensor, rng *rand.Rand) {
	bf := float32(jitterFactor(rng, j.Brightness))
	cf := float32(jitterFactor(rng, j.Contrast))
	sf := float32(jitterFactor(rng, j.Saturation))
	hs := 0.0
	if j.Hue > 0 {
		hs = uniform(rng, -j.Hue, j.Hue)
	}
	n := t.H * t.W
	if t.C < 3 || n == 0 {
		return
	}
	r, g, b := t.Data[:n], t.Data[n:2*n], t.Data[2*n:3*n]

	if bf != 1 {
		for i := range t.Data[:3*n] {
			t.Data[i] = clamp01(t.Data[i] * bf)
		}
	}
	if cf != 1 {
		var sum float32
		for i := 0; i < n; i++ {
			sum += gray(r[i], g[i], b[i])
		}
		mean := sum / float32(n)
		for i := range t.Data[:3*n] {
			t.Data[i] = clamp01((t.Data[i]-mean)*cf + mean)
		}
	}
	if sf != 1 {
		for i := 0; i < n; i++ {
			gr := gray(r[i], g[i], b[i])
			r[i] = clamp01(gr + (r[i]-gr)*sf)
			g[i] = clamp01(gr + (g[i]-gr)*sf)
			b[i] = clamp01(gr + (b[i]-gr)*sf)
		}
	}
	if hs != 0 {
		for i := 0; i < n; i++ {
			hh, s, v := rgbToHSV(r[i], g[i], b[i])
			hh = math.Mod(hh+hs+1, 1)
			r[i], g[i], b[i] = hsvToRGB(hh, s, v)
		}
	}
}

func gray(r, g, b float32) float32 { return 0.299*r + 0.587*g + 0.114*b }

func rgbToHSV(r, g, b float32) (h, s, v float64) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	mx := math.Max(rf, math.Max(gf, bf))
	mn := math.Min(rf, math.Min(gf, bf))
	v = mx
	d := mx - mn
	if mx > 0 {
		s = d / mx
	}
	if d == 0 {
		return 0, s, v
	}
	switch mx {
	case rf:
		h = math.Mod((gf-bf)/d, 6)
	case gf:
		h = (bf-rf)/d + 2
	default:
		h = (rf-gf)/d + 4
	}
	h /= 6
	if h < 0 {
		h++
	}
	return h, s, v
}

func hsvToRGB(h, s, v float64) (float32, float32, float32) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p, q, t := v*(1-s), v*(1-f*s), v*(1-(1-f)*s)
	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return clamp01(float32(r)), clamp01(float32(g)), clamp01(float32(b))
}

// Normalize returns (t - mean) / std per channel.
func Normalize(t Tensor, mean, std [3]float64) Tensor {
	out := t.Clone()
	out.normalize(mean, std)
	return out
}

// Denormalize inverts Normalize.
func Denormalize(t Tensor, mean, std [3]float64) Tensor {
	out := t.Clone()
	n := out.H * out.W
	for c := 0; c < 3 && c < out.C; c++ {
		m, s := float32(mean[c]), safeStd(std[c])
		ch := out.Data[c*n : (c+1)*n]
		for i := range ch {
			ch[i] = ch[i]*s + m
		}
	}
	return out
}

// Preview undoes the normalization of a sample produced by tc and renders
// it as an image.
func (tc TransformConfig) Preview(t Tensor) *image.RGBA {
	return Denormalize(t, tc.Mean, tc.Std).ToImage()
}

func (t Tensor) normalize(mean, std [3]float64) {
	n := t.H * t.W
	for c := 0; c < 3 && c < t.C; c++ {
		m, s := float32(mean[c]), safeStd(std[c])
		ch := t.Data[c*n : (c+1)*n]
		for i := range ch {
			ch[i] = (ch[i] - m) / s
		}
	}
}

func safeStd(s float64) float32 {
	if s == 0 {
		return 1
	}
	return float32(s)
}
