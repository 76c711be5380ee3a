// Package rewards turns channel point redemptions into clacks.
package rewards

import (
	"errors"
	"regexp"
	"strconv"
)

// ErrNoAmount is reported when a reward title carries no clack amount.
var ErrNoAmount = errors.New("reward title has no amount")

var amountPattern = regexp.MustCompile(`\d+`)

// ExtractAmount returns the first run of decimal digits in title.
// "10 Clacks" is 10; a title without digits, or with more digits than fit
// in an int, has no amount.
func ExtractAmount(title string) (int, bool) {
	digits := amountPattern.FindString(title)
	if digits == "" {
		return 0, false
	}
	amount, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return amount, true
}
