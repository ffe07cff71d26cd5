// Package imageops provides the pure pixel-buffer operations the detection
// tools are built from: cropping, colorspace conversion, edge detection,
// Otsu thresholding, template correlation, sharpness scoring and Hu-moment
// shape comparison. Every function here is stateless and safe to call from
// any goroutine; the only state that crosses calls is the Frame/Mat the
// caller owns and must Close.
package imageops

import (
	"fmt"
	"image"
	"math"
	"os"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// Frame is a decoded image held in OpenCV's native BGR layout. Master and
// runtime frames alike are Frames once captured or loaded; callers own the
// underlying Mat and must call Close when done with it.
type Frame struct {
	Width  int
	Height int
	mat    gocv.Mat
}

// NewFrame takes ownership of mat and wraps it as a Frame.
func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{Width: mat.Cols(), Height: mat.Rows(), mat: mat}
}

// Mat exposes the underlying gocv.Mat for operations not wrapped here.
// Callers must not Close the returned Mat; use Frame.Close instead.
func (f *Frame) Mat() gocv.Mat { return f.mat }

// Close releases the native buffer backing the frame.
func (f *Frame) Close() error {
	if f == nil {
		return nil
	}
	return f.mat.Close()
}

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame {
	return NewFrame(f.mat.Clone())
}

// DecodeFrame decodes an encoded image buffer (e.g. an uploaded PNG/JPEG) into a Frame.
func DecodeFrame(buf []byte) (*Frame, error) {
	mat, err := gocv.IMDecode(buf, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode frame: empty image")
	}
	return NewFrame(mat), nil
}

// LoadFrame reads a frame from a lossless PNG file on disk.
func LoadFrame(path string) (*Frame, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("load frame %s: could not decode", path)
	}
	return NewFrame(mat), nil
}

// EncodePNG encodes the frame as a lossless PNG at the given compression
// level (0 = no compression/fastest, 9 = max compression/slowest).
func EncodePNG(f *Frame, compressionLevel int) ([]byte, error) {
	params := []int{gocv.IMWritePngCompression, compressionLevel}
	buf, err := gocv.IMEncodeWithParams(".png", f.mat, params)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// SavePNG writes the frame to disk as a lossless PNG.
func SavePNG(f *Frame, path string, compressionLevel int) error {
	buf, err := EncodePNG(f, compressionLevel)
	if err != nil {
		return err
	}
	return writeFile(path, buf)
}

// ROI is an axis-aligned integer rectangle in frame coordinates.
type ROI struct {
	X, Y, W, H int
}

// Validate checks the ROI is non-degenerate and fits within a (width,height) frame.
func (r ROI) Validate(width, height int) error {
	if r.W < 1 || r.H < 1 {
		return fmt.Errorf("roi %+v: width and height must be >= 1", r)
	}
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("roi %+v: x and y must be >= 0", r)
	}
	if r.X+r.W > width || r.Y+r.H > height {
		return fmt.Errorf("roi %+v: out of bounds for frame %dx%d", r, width, height)
	}
	return nil
}

// Shift translates the ROI by (dx,dy).
func (r ROI) Shift(dx, dy int) ROI {
	return ROI{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

func (r ROI) rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Crop returns the rectangular subregion of f described by roi. An roi that
// does not fit inside f is an error.
func Crop(f *Frame, roi ROI) (*Frame, error) {
	if err := roi.Validate(f.Width, f.Height); err != nil {
		return nil, err
	}
	region := f.mat.Region(roi.rect())
	defer region.Close()
	return NewFrame(region.Clone()), nil
}

// ToGray converts a BGR frame to single-channel 8-bit grayscale.
func ToGray(f *Frame) (*Frame, error) {
	dst := gocv.NewMat()
	gocv.CvtColor(f.mat, &dst, gocv.ColorBGRToGray)
	return NewFrame(dst), nil
}

// ToHSV converts a BGR frame to 3-channel HSV, H in [0,179], S,V in [0,255] (OpenCV convention).
func ToHSV(f *Frame) (*Frame, error) {
	dst := gocv.NewMat()
	gocv.CvtColor(f.mat, &dst, gocv.ColorBGRToHSV)
	return NewFrame(dst), nil
}

// Canny computes a binary edge mask using the Canny detector with the given
// low/high hysteresis thresholds (on the usual 0-255 gradient scale).
func Canny(gray *Frame, low, high float32) (*Frame, error) {
	dst := gocv.NewMat()
	gocv.Canny(gray.mat, &dst, low, high)
	return NewFrame(dst), nil
}

// OtsuThreshold computes the Otsu threshold value of a grayscale frame and
// the resulting binary mask (pixels strictly above the threshold are 255;
// the returned value is the top of the darker class).
func OtsuThreshold(gray *Frame) (thresholdValue float64, mask *Frame, err error) {
	dst := gocv.NewMat()
	t := gocv.Threshold(gray.mat, &dst, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
	return float64(t), NewFrame(dst), nil
}

// ThresholdAt applies a fixed binary threshold (pixels strictly above value
// become 255, the same rule as OtsuThreshold's mask)
// to a grayscale frame, used by the area tool to reapply a master-derived
// Otsu threshold to subsequent frames without recomputing it.
func ThresholdAt(gray *Frame, value float64) (*Frame, error) {
	dst := gocv.NewMat()
	gocv.Threshold(gray.mat, &dst, float32(value), 255, gocv.ThresholdBinary)
	return NewFrame(dst), nil
}

// CountNonZero counts pixels with a value > 0 in a single-channel mask.
func CountNonZero(mask *Frame) int {
	return gocv.CountNonZero(mask.mat)
}

// TemplateCorrelate finds the best-matching offset of template within search
// using normalized cross-correlation, returning the offset (relative to the
// search window's origin) and a unit-scaled [0,1] peak score.
func TemplateCorrelate(search, template *Frame) (dx, dy int, score float64, err error) {
	if template.Width > search.Width || template.Height > search.Height {
		return 0, 0, 0, fmt.Errorf("template %dx%d does not fit in search window %dx%d",
			template.Width, template.Height, search.Width, search.Height)
	}
	result := gocv.NewMat()
	defer result.Close()
	gocv.MatchTemplate(search.mat, template.mat, &result, gocv.TmCcoeffNormed, gocv.NewMat())
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
	// Normalize [-1,1] correlation coefficient into a [0,1] score.
	s := (float64(maxVal) + 1) / 2
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return maxLoc.X, maxLoc.Y, s, nil
}

// LaplacianVariance computes the variance of the Laplacian of a grayscale
// frame, a standard sharpness/focus proxy.
func LaplacianVariance(gray *Frame) (float64, error) {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray.mat, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd, err := stddev.DataPtrFloat64()
	if err != nil || len(sd) == 0 {
		return 0, fmt.Errorf("laplacian variance: read stddev: %w", err)
	}
	return sd[0] * sd[0], nil
}

// HuMoments computes the 7 Hu invariant moments of a binary edge/shape mask
// from its central normalized moments.
func HuMoments(mask *Frame) ([7]float64, error) {
	m := gocv.Moments(mask.mat, true)
	var hu [7]float64
	hu[0] = m.Nu20 + m.Nu02
	hu[1] = math.Pow(m.Nu20-m.Nu02, 2) + 4*math.Pow(m.Nu11, 2)
	hu[2] = math.Pow(m.Nu30-3*m.Nu12, 2) + math.Pow(3*m.Nu21-m.Nu03, 2)
	hu[3] = math.Pow(m.Nu30+m.Nu12, 2) + math.Pow(m.Nu21+m.Nu03, 2)
	hu[4] = (m.Nu30-3*m.Nu12)*(m.Nu30+m.Nu12)*(math.Pow(m.Nu30+m.Nu12, 2)-3*math.Pow(m.Nu21+m.Nu03, 2)) +
		(3*m.Nu21-m.Nu03)*(m.Nu21+m.Nu03)*(3*math.Pow(m.Nu30+m.Nu12, 2)-math.Pow(m.Nu21+m.Nu03, 2))
	hu[5] = (m.Nu20-m.Nu02)*(math.Pow(m.Nu30+m.Nu12, 2)-math.Pow(m.Nu21+m.Nu03, 2)) +
		4*m.Nu11*(m.Nu30+m.Nu12)*(m.Nu21+m.Nu03)
	hu[6] = (3*m.Nu21-m.Nu03)*(m.Nu30+m.Nu12)*(math.Pow(m.Nu30+m.Nu12, 2)-3*math.Pow(m.Nu21+m.Nu03, 2)) -
		(m.Nu30-3*m.Nu12)*(m.Nu21+m.Nu03)*(3*math.Pow(m.Nu30+m.Nu12, 2)-math.Pow(m.Nu21+m.Nu03, 2))
	return hu, nil
}

// HuDistance compares two Hu-moment vectors using a log-magnitude,
// sign-preserving transform (the standard way to compare invariants that
// span many orders of magnitude) and returns the sum of absolute
// differences across the 7 terms.
func HuDistance(a, b [7]float64) float64 {
	la := make([]float64, len(a))
	lb := make([]float64, len(b))
	for i := range a {
		la[i] = logHu(a[i])
		lb[i] = logHu(b[i])
	}
	return floats.Distance(la, lb, 1)
}

func logHu(v float64) float64 {
	if v == 0 {
		return 0
	}
	sign := 1.0
	if v < 0 {
		sign = -1.0
	}
	return sign * math.Log10(math.Abs(v))
}

// ChannelMedians returns the per-channel median of a 3-channel frame
// (e.g. H,S,V), sampling every pixel.
func ChannelMedians(f *Frame) ([3]float64, error) {
	data, err := f.mat.DataPtrUint8()
	if err != nil {
		return [3]float64{}, fmt.Errorf("channel medians: %w", err)
	}
	channels := f.mat.Channels()
	if channels != 3 {
		return [3]float64{}, fmt.Errorf("channel medians: expected 3 channels, got %d", channels)
	}
	n := len(data) / 3
	cols := [3][]uint8{make([]uint8, n), make([]uint8, n), make([]uint8, n)}
	for i := 0; i < n; i++ {
		cols[0][i] = data[i*3+0]
		cols[1][i] = data[i*3+1]
		cols[2][i] = data[i*3+2]
	}
	var medians [3]float64
	for c := 0; c < 3; c++ {
		sort.Slice(cols[c], func(i, j int) bool { return cols[c][i] < cols[c][j] })
		medians[c] = float64(cols[c][n/2])
	}
	return medians, nil
}

// HSVBounds is an inclusive lower/upper HSV range used to count color pixels.
type HSVBounds struct {
	LowH, LowS, LowV    float64
	HighH, HighS, HighV float64
}

// ClampHSVBounds builds an HSVBounds around a center (H,S,V), clamping to
// OpenCV's HSV ranges: H wraps in [0,179], S and V clamp to [0,255].
func ClampHSVBounds(h, s, v, hTol, sTol, vTol float64) HSVBounds {
	clamp := func(x, lo, hi float64) float64 {
		if x < lo {
			return lo
		}
		if x > hi {
			return hi
		}
		return x
	}
	return HSVBounds{
		LowH:  math.Mod(h-hTol+180, 180),
		HighH: math.Mod(h+hTol+180, 180),
		LowS:  clamp(s-sTol, 0, 255),
		HighS: clamp(s+sTol, 0, 255),
		LowV:  clamp(v-vTol, 0, 255),
		HighV: clamp(v+vTol, 0, 255),
	}
}

// CountInHSVRange counts pixels of an HSV frame within bounds, handling hue
// wraparound (LowH > HighH means the range crosses the 0/179 boundary).
func CountInHSVRange(hsv *Frame, b HSVBounds) (int, error) {
	var mask gocv.Mat
	if b.LowH <= b.HighH {
		mask = inRange(hsv.mat, b.LowH, b.HighH, b.LowS, b.HighS, b.LowV, b.HighV)
		defer mask.Close()
		return gocv.CountNonZero(mask), nil
	}
	// Wraparound: union of [LowH,179] and [0,HighH].
	m1 := inRange(hsv.mat, b.LowH, 179, b.LowS, b.HighS, b.LowV, b.HighV)
	defer m1.Close()
	m2 := inRange(hsv.mat, 0, b.HighH, b.LowS, b.HighS, b.LowV, b.HighV)
	defer m2.Close()
	union := gocv.NewMat()
	defer union.Close()
	gocv.BitwiseOr(m1, m2, &union)
	return gocv.CountNonZero(union), nil
}

func inRange(src gocv.Mat, lowH, highH, lowS, highS, lowV, highV float64) gocv.Mat {
	lb := gocv.NewScalar(lowH, lowS, lowV, 0)
	ub := gocv.NewScalar(highH, highS, highV, 0)
	dst := gocv.NewMat()
	gocv.InRangeWithScalar(src, lb, ub, &dst)
	return dst
}

// MeanGray returns the mean intensity of a grayscale frame.
func MeanGray(gray *Frame) (float64, error) {
	data, err := gray.mat.DataPtrUint8()
	if err != nil {
		return 0, fmt.Errorf("mean gray: %w", err)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("mean gray: empty frame")
	}
	var sum int
	for _, v := range data {
		sum += int(v)
	}
	return float64(sum) / float64(len(data)), nil
}

// ExtremeFractions returns the fraction of pixels at or above highCut and at
// or below lowCut in a grayscale frame, used for exposure scoring.
func ExtremeFractions(gray *Frame, lowCut, highCut uint8) (lowFrac, highFrac float64, err error) {
	data, err := gray.mat.DataPtrUint8()
	if err != nil {
		return 0, 0, fmt.Errorf("extreme fractions: %w", err)
	}
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("extreme fractions: empty frame")
	}
	var low, high int
	for _, v := range data {
		if v >= highCut {
			high++
		}
		if v <= lowCut {
			low++
		}
	}
	n := float64(len(data))
	return float64(low) / n, float64(high) / n, nil
}
