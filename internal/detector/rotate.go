package detector

import "gocv.io/x/gocv"

// QuarterTurns converts a rotation in degrees into the number of clockwise
// quarter turns in [0, 3]. Degrees are truncated to whole quarter turns.
func QuarterTurns(rotation int) int {
	return ((rotation/90)%4 + 4) % 4
}

// Rotate returns a copy of frame turned clockwise by rotation degrees, which
// undoes a sensor mounted rotation degrees off upright. The caller owns and
// must close the returned Mat.
func Rotate(frame gocv.Mat, rotation int) gocv.Mat {
	turns := QuarterTurns(rotation)
	if turns == 0 || frame.Empty() {
		return frame.Clone()
	}

	dst := gocv.NewMat()
	switch turns {
	case 1:
		gocv.Rotate(frame, &dst, gocv.Rotate90Clockwise)
	case 2:
		gocv.Rotate(frame, &dst, gocv.Rotate180Clockwise)
	case 3:
		gocv.Rotate(frame, &dst, gocv.Rotate90CounterClockwise)
	}
	return dst
}

// RotatedSize returns the width and height of a width x height image after
// Rotate with the given rotation.
func RotatedSize(width, height, rotation int) (int, int) {
	if QuarterTurns(rotation)%2 == 1 {
		return height, width
	}
	return width, height
}
