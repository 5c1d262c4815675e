package chat

import "strings"

func isSpaceByte(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func stripSpace(s string) string {
	return strings.TrimSpace(s)
}

// overlap returns the length of the longest suffix of s that is a proper
// prefix of delim.
func overlap(s, delim string) int {
	max := len(delim) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, delim[:k]) {
			return k
		}
	}
	return 0
}

// findPartialStop returns the start index of the longest suffix of s that is
// a proper prefix of literal, or -1 when s does not end in one.
func findPartialStop(s, literal string) int {
	if n := overlap(s, literal); n > 0 {
		return len(s) - n
	}
	return -1
}
