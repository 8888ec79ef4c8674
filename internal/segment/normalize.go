package segment

import "strings"

// Normalize forces segments to exactly targetCount entries.
//
// Overflow is merged into the final segment (space-joined) so surplus speech
// is attributed to the last word rather than dropped; underflow is padded
// with empty strings at the end. This is the single place where the arity
// invariant is enforced — every strategy's raw output passes through here
// before it is surfaced to a caller.
func Normalize(segments []string, targetCount int) []string {
	if targetCount <= 0 {
		return []string{}
	}

	switch {
	case len(segments) == targetCount:
		out := make([]string, targetCount)
		copy(out, segments)
		return out

	case len(segments) > targetCount:
		out := make([]string, targetCount)
		copy(out, segments[:targetCount-1])
		out[targetCount-1] = strings.Join(segments[targetCount-1:], " ")
		return out

	default:
		out := make([]string, targetCount)
		copy(out, segments)
		return out
	}
}
