package gemini

import (
	"time"

	"github.com/tidwall/gjson"

	"pollux-go/internal/constants"
)

// cooldownFromBody extracts the rate-limit cooldown from a 429 response.
// Google encodes the reset instant as RFC 3339 in
// error.details[].metadata.quotaResetTimeStamp; absent or unparseable
// timestamps fall back to the default cooldown.
func cooldownFromBody(body []byte, now time.Time) time.Duration {
	details := gjson.GetBytes(body, "error.details")
	if !details.IsArray() {
		return constants.DefaultRateLimitCooldown
	}

	var cooldown time.Duration = -1
	details.ForEach(func(_, detail gjson.Result) bool {
		raw := detail.Get("metadata.quotaResetTimeStamp").String()
		if raw == "" {
			return true
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return true
		}
		cooldown = ts.Sub(now)
		if cooldown < 0 {
			cooldown = 0
		}
		return false
	})

	if cooldown < 0 {
		return constants.DefaultRateLimitCooldown
	}
	return cooldown
}
