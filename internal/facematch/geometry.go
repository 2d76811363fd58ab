package facematch

// ValidBBox reports whether bbox is a well-formed [x1, y1, x2, y2] box.
func ValidBBox(bbox []float64) bool {
	return len(bbox) == 4 && bbox[2] >= bbox[0] && bbox[3] >= bbox[1]
}

// ConvertPixelBBoxToRelative converts pixel bbox to relative (0-1) coordinates.
// Input bbox is [x1, y1, x2, y2] in pixels, output is [x1, y1, x2, y2] in relative coords.
func ConvertPixelBBoxToRelative(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	return []float64{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}

// ScaleBBox maps a bbox detected on a resized image back to original pixel coordinates.
// factor is original size divided by resized size.
func ScaleBBox(bbox []float64, factor float64) []float64 {
	if len(bbox) != 4 || factor <= 0 || factor == 1 {
		return bbox
	}
	return []float64{bbox[0] * factor, bbox[1] * factor, bbox[2] * factor, bbox[3] * factor}
}
