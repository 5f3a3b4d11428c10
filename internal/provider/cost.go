package provider

// DefaultCostPerMinute applies to providers without a known rate
const DefaultCostPerMinute = 0.02

// costPerMinute is the USD list price per audio minute
var costPerMinute = map[string]float64{
	"aws":     0.024,
	"azure":   0.016,
	"gcp":     0.018,
	"whisper": 0.006,
}

// CostPerMinute returns the rate for a provider
func CostPerMinute(name string) float64 {
	if rate, ok := costPerMinute[name]; ok {
		return rate
	}
	return DefaultCostPerMinute
}

// EstimateCost prices durationSeconds of audio on the named provider
func EstimateCost(name string, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return durationSeconds / 60 * CostPerMinute(name)
}
