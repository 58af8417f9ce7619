package processor

import "math"

// lengthScore maps a word count onto the content-length buckets.
func lengthScore(words int) float64 {
	switch {
	case words <= 50:
		return 0.1
	case words <= 200:
		return 0.5
	case words <= 500:
		return 0.8
	case words <= 2000:
		return 1.0
	case words <= 5000:
		return 0.9
	default:
		return 0.7
	}
}

// qualityScore blends length, text-to-markup ratio, link density and title
// presence into [0,1].
func qualityScore(words, textBytes, markupBytes, anchorWords int, hasTitle bool) float64 {
	ratio := 0.0
	if markupBytes > 0 {
		ratio = math.Min(1, 4*float64(textBytes)/float64(markupBytes))
	}
	density := 1.0
	if words > 0 {
		density = math.Min(1, float64(anchorWords)/float64(words))
	}
	title := 0.0
	if hasTitle {
		title = 1
	}
	score := 0.4*lengthScore(words) + 0.3*ratio + 0.2*(1-density) + 0.1*title
	return math.Max(0, math.Min(1, score))
}
