package utils

// TruncateRunes returns the first n runes of s and whether anything was cut.
func TruncateRunes(s string, n int) (string, bool) {
	if n < 0 {
		n = 0
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

// Preview shortens s to n runes, appending "..." when it was cut.
func Preview(s string, n int) string {
	out, cut := TruncateRunes(s, n)
	if cut {
		return out + "..."
	}
	return out
}
