package transcribe

import "strings"

// ResolveLocale maps the platform-reported user locale to the recognition
// locale. Chinese locales are disambiguated into Cantonese, Traditional, or
// Simplified variants from the region and script hints in the tag.
func ResolveLocale(userLocale string) string {
	locale := strings.TrimSpace(userLocale)
	if locale == "" {
		return "en-US"
	}

	lower := strings.ToLower(locale)
	if !strings.HasPrefix(lower, "zh") {
		return locale
	}

	switch {
	case strings.Contains(lower, "-hk") || strings.Contains(lower, "hant-hk"):
		return "yue-Hant-HK"
	case strings.Contains(lower, "-tw") || strings.Contains(lower, "hant"):
		return "zh-Hant-TW"
	default:
		return "zh-CN"
	}
}

// languageNames covers the locales the recognizer backends report. Unlisted
// codes fall back to the bare code.
var languageNames = map[string]string{
	"en":          "English",
	"en-US":       "English",
	"en-GB":       "English",
	"es":          "Spanish",
	"es-ES":       "Spanish",
	"fr":          "French",
	"fr-FR":       "French",
	"de":          "German",
	"de-DE":       "German",
	"it":          "Italian",
	"pt":          "Portuguese",
	"ru":          "Russian",
	"uk":          "Ukrainian",
	"ar":          "Arabic",
	"th":          "Thai",
	"ja":          "Japanese",
	"ko":          "Korean",
	"zh":          "Chinese",
	"zh-CN":       "Chinese (Simplified)",
	"zh-Hant-TW":  "Chinese (Traditional)",
	"yue-Hant-HK": "Cantonese",
}

// LanguageName returns a display name for a language code, trying the full
// tag first and then the base language.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	if base, _, found := strings.Cut(code, "-"); found {
		if name, ok := languageNames[base]; ok {
			return name
		}
	}
	return code
}

// IsEnglish reports whether a language code denotes English.
func IsEnglish(code string) bool {
	lower := strings.ToLower(code)
	return lower == "en" || strings.HasPrefix(lower, "en-")
}
