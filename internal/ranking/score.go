// Package ranking scores normalized results and defines the one total order
// used for every result list the service returns.
package ranking

import (
	"math"
	"strings"

	"musicdiscovery/searchcore/internal/domain"
)

const (
	scoreHiResLossless = 400
	scoreLossless      = 300
	score320           = 200
	scoreV0            = 170
	score256           = 130
	scoreVBR           = 110
	score192           = 90
	scoreLossyUnknown  = 70
	score128           = 50
	scoreUnknown       = 10

	seederWeight   = 2
	maxSeederBonus = 100
	maxSizeBonus   = 50
	// sizeScaleGB controls how fast the size bonus saturates: a 2 GB release
	// gets ~63% of the cap, 6 GB ~95%.
	sizeScaleGB = 2.0
)

var losslessFormats = map[string]struct{}{
	"FLAC": {}, "ALAC": {}, "APE": {}, "WV": {}, "WAV": {}, "DSD": {}, "AIFF": {},
}

var lossyBitrateScores = map[string]float64{
	"320kbps": score320,
	"V0":      scoreV0,
	"256kbps": score256,
	"V2":      score256,
	"VBR":     scoreVBR,
	"192kbps": score192,
	"128kbps": score128,
}

// QualityScore is the additive score of format tier, seeder bonus and size
// bonus. It is pure and depends only on the result's own fields.
func QualityScore(result domain.Result) float64 {
	return FormatScore(result) + SeederBonus(result.Seeders()) + SizeBonus(result.SizeBytes())
}

func FormatScore(result domain.Result) float64 {
	format := strings.ToUpper(result.Format().OrEmpty())
	bitrate := result.Bitrate().OrEmpty()

	if _, lossless := losslessFormats[format]; lossless {
		if format == "DSD" || bitrate == "24bit" {
			return scoreHiResLossless
		}
		return scoreLossless
	}

	if format == "" {
		switch bitrate {
		case "":
			return scoreUnknown
		case "24bit":
			return scoreHiResLossless
		case "16bit":
			return scoreLossless
		}
	}

	if score, ok := lossyBitrateScores[bitrate]; ok {
		return score
	}
	if format == "" {
		return scoreUnknown
	}
	return scoreLossyUnknown
}

func SeederBonus(seeders int) float64 {
	if seeders <= 0 {
		return 0
	}
	return math.Min(float64(seeders)*seederWeight, maxSeederBonus)
}

func SizeBonus(sizeBytes int64) float64 {
	if sizeBytes <= 0 {
		return 0
	}
	gb := float64(sizeBytes) / (1 << 30)
	return maxSizeBonus * (1 - math.Exp(-gb/sizeScaleGB))
}
