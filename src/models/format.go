package models

import "strconv"

// formatFloat renders numeric CSV fields without exponent notation and
// without trailing zeros, so "0" stays "0" and "101.5" stays "101.5".
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
