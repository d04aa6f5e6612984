package gemini

import (
	"math"
	"math/rand"
	"time"

	"pollux-go/internal/constants"
)

func nextBackoff(attempt int) time.Duration {
	base := float64(constants.UpstreamBackoffMin)
	max := float64(constants.UpstreamBackoffMax)
	dur := base * math.Pow(2, float64(attempt))
	if dur > max {
		dur = max
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(dur * jitter)
}
