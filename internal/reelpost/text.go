package reelpost

// TruncateRunes shortens s to at most limit runes, ending with an ellipsis
// when anything was cut. A limit of zero or less leaves s untouched.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(runes[:limit-1]) + "…"
}
