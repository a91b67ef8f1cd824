package analysis

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/tidwall/gjson"
)

// Older service builds report the fine flow rate only inside the human
// message, so extraction falls back to pattern matching. The dedicated field
// always wins when present.
var flowRatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)flow[ _-]?rate[^0-9\-]*(-?\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*g/s`),
	regexp.MustCompile(`(?i)细加速率[^0-9\-]*(-?\d+(?:\.\d+)?)`),
}

// ExtractFlowRate pulls the fine flow rate out of a raw fine-time response.
// Returns nil when neither the field nor the message carries one.
func ExtractFlowRate(rawBody []byte, message string) *float64 {
	if v := gjson.GetBytes(rawBody, "fine_flow_rate"); v.Exists() && v.Type == gjson.Number {
		rate := v.Float()
		return &rate
	}
	for _, p := range flowRatePatterns {
		if m := p.FindStringSubmatch(message); m != nil {
			if rate, err := strconv.ParseFloat(m[1], 64); err == nil {
				return &rate
			}
		}
	}
	configs.Warn(false, "analysis: fine flow rate missing from response and message")
	return nil
}

var technicalPrefixes = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Za-z_]*(Error|Exception):\s*`),
	regexp.MustCompile(`(?i)^value error,\s*`),
	regexp.MustCompile(`^\[[^\]]*\]\s*`),
}

var fieldNames = map[string]string{
	"target_weight":          "target weight",
	"coarse_time_ms":         "coarse fill time",
	"fine_time_ms":           "fine fill time",
	"current_coarse_speed":   "coarse speed",
	"current_fine_speed":     "fine speed",
	"current_coarse_advance": "coarse advance",
	"current_fall_value":     "fall value",
	"recorded_weights":       "sampled weights",
	"flight_material_value":  "flight material",
	"fine_flow_rate":         "flow rate",
}

// FriendlyMessage rewrites a server validation message for the operator:
// technical prefixes go, internal field names become plain language.
func FriendlyMessage(raw string) string {
	msg := strings.TrimSpace(raw)
	for _, p := range technicalPrefixes {
		msg = p.ReplaceAllString(msg, "")
	}
	for field, plain := range fieldNames {
		msg = strings.ReplaceAll(msg, field, plain)
	}
	return strings.TrimSpace(msg)
}
