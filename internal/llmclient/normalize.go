package llmclient

import "strings"

// normalizeDelta strips every dash form — em, en, and double/triple hyphen —
// from a streamed delta and collapses the double comma or double space that
// sometimes results, per spec §4.B: the model is never allowed to emit the
// "—" construction this engine's prose linter flags as an AI pattern, so
// it's scrubbed at the source rather than caught after the fact. The triple
// hyphen must be replaced before the double hyphen, or "---" would leave a
// stray "-" behind.
func normalizeDelta(delta string) string {
	if delta == "" {
		return delta
	}
	s := strings.ReplaceAll(delta, "—", ", ") // em dash
	s = strings.ReplaceAll(s, "–", ", ")       // en dash
	s = strings.ReplaceAll(s, "---", ", ")     // triple hyphen
	s = strings.ReplaceAll(s, "--", ", ")      // double hyphen
	s = strings.ReplaceAll(s, ",,", ",")
	s = strings.ReplaceAll(s, " ,", ",")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}
