package util

// ShortHash returns the first 8 characters of an id for log prefixes
func ShortHash(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
