package transcribe

// DetectLanguage runs a lightweight script heuristic over final text, used
// after stop when the recognizer never overrode the default locale. Counts
// characters per script block and returns the dominant script's language,
// or empty when nothing beats the Latin default.
func DetectLanguage(text string) string {
	counts := map[string]int{}
	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF || r >= 0x3400 && r <= 0x4DBF:
			counts["zh"]++
		case r >= 0x3040 && r <= 0x30FF:
			counts["ja"]++
		case r >= 0xAC00 && r <= 0xD7AF:
			counts["ko"]++
		case r >= 0x0600 && r <= 0x06FF || r >= 0x0750 && r <= 0x077F:
			counts["ar"]++
		case r >= 0x0E00 && r <= 0x0E7F:
			counts["th"]++
		case r >= 0x0400 && r <= 0x04FF:
			counts["ru"]++
		}
	}

	best := ""
	bestCount := 0
	for lang, count := range counts {
		if count > bestCount {
			best = lang
			bestCount = count
		}
	}
	if bestCount == 0 {
		return ""
	}
	// Kana outweighs shared Han ideographs: Japanese text mixes both.
	if best == "zh" && counts["ja"] > 0 {
		return "ja"
	}
	return best
}
