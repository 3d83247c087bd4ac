package metadata

import (
	"math"
	"strconv"
	"strings"
)

var sizeUnits = []struct {
	suffix     string
	multiplier float64
}{
	{"TIB", 1 << 40}, {"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
	{"TB", 1 << 40}, {"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
	{"BYTES", 1}, {"B", 1},
}

// ParseSize converts "1.5 GB", "750 MB", "1,2 GiB" or a plain byte count into
// bytes using 1024-based units. Anything it cannot read yields 0.
func ParseSize(raw string) int64 {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, " ", " ")
	if value == "" {
		return 0
	}

	multiplier := float64(0)
	number := value
	for _, unit := range sizeUnits {
		if strings.HasSuffix(number, unit.suffix) {
			multiplier = unit.multiplier
			number = strings.TrimSpace(strings.TrimSuffix(number, unit.suffix))
			break
		}
	}
	if multiplier == 0 {
		parsed, err := strconv.ParseInt(number, 10, 64)
		if err != nil || parsed < 0 {
			return 0
		}
		return parsed
	}

	parsed, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", "."), 64)
	if err != nil || parsed < 0 || math.IsInf(parsed, 0) || math.IsNaN(parsed) {
		return 0
	}
	bytes := math.Round(parsed * multiplier)
	if bytes >= math.MaxInt64 {
		return 0
	}
	return int64(bytes)
}
