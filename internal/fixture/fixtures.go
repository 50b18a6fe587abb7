// Package fixture builds synthetic frames and MJPEG stream bodies for tests.
package fixture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	Black = color.RGBA{0, 0, 0, 0}
	White = color.RGBA{255, 255, 255, 0}
)

// SolidFrame returns a w×h BGR frame filled with c.
func SolidFrame(w, h int, c color.RGBA) gocv.Mat {
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	mat.SetTo(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0))
	return mat
}

// SquareFrame returns a black w×h frame with a filled white square.
func SquareFrame(w, h int, square image.Rectangle) gocv.Mat {
	mat := SolidFrame(w, h, Black)
	gocv.Rectangle(&mat, square, White, -1)
	return mat
}

// MovingSquare returns still black frames followed by moving frames with a
// side×side white square that advances step pixels per frame.
func MovingSquare(w, h, still, moving, side, step int) []gocv.Mat {
	frames := make([]gocv.Mat, 0, still+moving)
	for i := 0; i < still; i++ {
		frames = append(frames, SolidFrame(w, h, Black))
	}
	for i := 0; i < moving; i++ {
		x := 20 + i*step
		y := h/2 - side/2
		frames = append(frames, SquareFrame(w, h, image.Rect(x, y, x+side, y+side)))
	}
	return frames
}

// CloseAll releases every mat.
func CloseAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}

// EncodeJPEG encodes mat as a JPEG.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// EncodeAll encodes every mat as a JPEG.
func EncodeAll(mats []gocv.Mat) ([][]byte, error) {
	out := make([][]byte, 0, len(mats))
	for _, m := range mats {
		data, err := EncodeJPEG(m)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// FakeJPEG wraps body in SOI/EOI markers. The result splits like a JPEG but
// does not decode.
func FakeJPEG(body []byte) []byte {
	out := []byte{0xFF, 0xD8}
	out = append(out, body...)
	return append(out, 0xFF, 0xD9)
}

// MJPEGPart formats one multipart/x-mixed-replace part with boundary "frame".
func MJPEGPart(jpeg []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "--frame\r\n")
	fmt.Fprintf(&b, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(jpeg))
	b.Write(jpeg)
	fmt.Fprintf(&b, "\r\n")
	return b.Bytes()
}

// MJPEGBody concatenates a part for every payload.
func MJPEGBody(payloads [][]byte) []byte {
	var b bytes.Buffer
	for _, p := range payloads {
		b.Write(MJPEGPart(p))
	}
	return b.Bytes()
}
