package capture

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Motion detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
	// DilateIterations merges nearby fragments of the same moving object
	DilateIterations = 2
	// DefaultSensitivity is the default minimum contour area in pixels
	DefaultSensitivity = 500
)

// RegionColor is the annotation color (BGR green).
var RegionColor = color.RGBA{0, 255, 0, 0}

// Region is a moving area: the bounding box of one contour and its area.
type Region struct {
	Box  image.Rectangle
	Area float64
}

// Result is the outcome of one detection tick.
type Result struct {
	// Motion is true if at least one region passed the sensitivity threshold.
	Motion bool
	// Baseline is true if this frame became the reference frame.
	Baseline bool
	Regions  []Region
	// Annotated is a copy of the input frame with a rectangle drawn over
	// every region. The caller must Close it.
	Annotated gocv.Mat
}

// MotionDetector detects motion against a fixed reference frame using
// frame differencing and contour extraction.
//
// The reference is the first frame seen after construction or Reset and is
// never updated afterwards, so lasting scene changes keep reporting motion
// until the detector is reset.
type MotionDetector struct {
	sensitivity atomic.Int64

	mu          sync.Mutex
	reference   gocv.Mat
	initialized bool
	kernel      gocv.Mat
}

// NewMotionDetector creates a new MotionDetector. sensitivity is the minimum
// contour area, in pixels, that counts as motion.
func NewMotionDetector(sensitivity int) *MotionDetector {
	m := &MotionDetector{
		reference: gocv.NewMat(),
		kernel:    gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}
	m.sensitivity.Store(int64(sensitivity))
	return m
}

// Detect analyzes frame against the reference frame.
//
// Algorithm:
// 1. Convert frame to grayscale
// 2. Apply Gaussian blur (21x21) to reduce noise
// 3. If no reference, store this frame as reference and report no motion
// 4. Calculate absolute difference with the reference
// 5. Threshold the difference (threshold=25) and dilate twice
// 6. Find external contours
// 7. Every contour with area >= sensitivity is a region
func (m *MotionDetector) Detect(frame gocv.Mat) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame.Empty() {
		return Result{Annotated: gocv.NewMat()}
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	m.preprocess(frame, &blurred)

	annotated := frame.Clone()

	// A resolution change makes the reference unusable.
	if m.initialized && (m.reference.Rows() != blurred.Rows() || m.reference.Cols() != blurred.Cols()) {
		m.initialized = false
	}

	if !m.initialized {
		blurred.CopyTo(&m.reference)
		m.initialized = true
		return Result{Baseline: true, Annotated: annotated}
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(m.reference, blurred, &diff)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(diff, &mask, DiffThreshold, 255, gocv.ThresholdBinary)
	for i := 0; i < DilateIterations; i++ {
		gocv.Dilate(mask, &mask, m.kernel)
	}

	regions := FindRegions(mask, float64(m.Sensitivity()))
	for _, r := range regions {
		gocv.Rectangle(&annotated, r.Box, RegionColor, 2)
	}

	return Result{
		Motion:    len(regions) > 0,
		Regions:   regions,
		Annotated: annotated,
	}
}

// preprocess converts frame to a blurred grayscale image in dst.
func (m *MotionDetector) preprocess(frame gocv.Mat, dst *gocv.Mat) {
	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	gocv.GaussianBlur(gray, dst, image.Pt(GaussianBlurSize, GaussianBlurSize), 0, 0, gocv.BorderDefault)
}

// FindRegions extracts the external contours of a binary mask and returns
// those with an area of at least minArea, in contour order.
func FindRegions(mask gocv.Mat, minArea float64) []Region {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var regions []Region
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < minArea {
			continue
		}
		regions = append(regions, Region{Box: gocv.BoundingRect(c), Area: area})
	}

	return regions
}

// Initialized reports whether a reference frame is set.
func (m *MotionDetector) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Reset clears the reference frame; the next frame becomes the new baseline.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.reference.Empty() {
		m.reference.Close()
		m.reference = gocv.NewMat()
	}
	m.initialized = false
}

// Close releases resources used by the motion detector.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.reference.Empty() {
		m.reference.Close()
		m.reference = gocv.NewMat()
	}
	m.kernel.Close()
	m.initialized = false
}

// SetSensitivity sets the minimum contour area. It takes effect on the next
// Detect call. Values less than or equal to 0 are ignored.
func (m *MotionDetector) SetSensitivity(sensitivity int) {
	if sensitivity <= 0 {
		return
	}
	m.sensitivity.Store(int64(sensitivity))
}

// Sensitivity returns the minimum contour area.
func (m *MotionDetector) Sensitivity() int {
	return int(m.sensitivity.Load())
}
