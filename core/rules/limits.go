package rules

// Limits are the numeric thresholds the builtin rules evaluate against.
type Limits struct {
	MaxComplexity      int
	MaxCodeSize        int
	MaxMemoryBytes     uint64
	MaxCPUPercent      float64
	MaxErrorRate       float64
	MaxLatencyIncrease float64
	AllowDeprecated    bool
}

// DefaultLimits returns the thresholds used when no configuration overrides
// them.
func DefaultLimits() Limits {
	return Limits{
		MaxComplexity:      10,
		MaxCodeSize:        10000,
		MaxMemoryBytes:     256 << 20,
		MaxCPUPercent:      90,
		MaxErrorRate:       0.05,
		MaxLatencyIncrease: 0.25,
	}
}
