package rewards

import "math/rand/v2"

// dailyWeights are the odds of drawing 1 through 10 clacks; each amount is
// about half as likely as the one before.
var dailyWeights = [...]int{1000, 512, 256, 128, 64, 32, 16, 8, 4, 1}

// DailyAmount draws the daily bonus, between 1 and 10 clacks. A nil rng uses
// the global source.
func DailyAmount(rng *rand.Rand) int {
	total := 0
	for _, w := range dailyWeights {
		total += w
	}

	var n int
	if rng == nil {
		n = rand.IntN(total)
	} else {
		n = rng.IntN(total)
	}

	for i, w := range dailyWeights {
		if n < w {
			return i + 1
		}
		n -= w
	}
	return len(dailyWeights)
}
