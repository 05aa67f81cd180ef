package transcribe

import "testing"

func TestResolveLocale(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "en-US"},
		{"en-US", "en-US"},
		{"es-ES", "es-ES"},
		{"zh", "zh-CN"},
		{"zh-CN", "zh-CN"},
		{"zh-HK", "yue-Hant-HK"},
		{"zh-Hant-HK", "yue-Hant-HK"},
		{"zh-TW", "zh-Hant-TW"},
		{"zh-Hant", "zh-Hant-TW"},
	}
	for _, tc := range cases {
		if got := ResolveLocale(tc.in); got != tc.want {
			t.Fatalf("ResolveLocale(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLanguageName(t *testing.T) {
	if got := LanguageName("es-ES"); got != "Spanish" {
		t.Fatalf("expected Spanish, got %s", got)
	}
	if got := LanguageName("es-MX"); got != "Spanish" {
		t.Fatalf("expected base-language fallback, got %s", got)
	}
	if got := LanguageName("xx-YY"); got != "xx-YY" {
		t.Fatalf("expected code passthrough, got %s", got)
	}
}

func TestIsEnglish(t *testing.T) {
	for _, code := range []string{"en", "en-US", "EN-gb"} {
		if !IsEnglish(code) {
			t.Fatalf("expected %s to be English", code)
		}
	}
	for _, code := range []string{"es-ES", "enx", ""} {
		if IsEnglish(code) {
			t.Fatalf("expected %s to not be English", code)
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"hello there", ""},
		{"你好世界", "zh"},
		{"こんにちは世界", "ja"},
		{"안녕하세요", "ko"},
		{"مرحبا بالعالم", "ar"},
		{"สวัสดีชาวโลก", "th"},
		{"привет мир", "ru"},
	}
	for _, tc := range cases {
		if got := DetectLanguage(tc.text); got != tc.want {
			t.Fatalf("DetectLanguage(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
