package i18n

import (
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	cases := map[string]Locale{
		"en":     LocaleEN,
		"zh":     LocaleZH,
		"ZH-CN":  LocaleZH,
		"zh_TW":  LocaleZH,
		" zh ":   LocaleZH,
		"fr":     LocaleEN,
		"":       LocaleEN,
		"zhuang": LocaleEN,
	}
	for tag, want := range cases {
		if got := Resolve(tag); got != want {
			t.Errorf("Resolve(%q) = %s, want %s", tag, got, want)
		}
	}
}

func TestTFormatsArgs(t *testing.T) {
	got := T(LocaleEN, KeyBodyTooShort, 80)
	if !strings.Contains(got, "80") {
		t.Errorf("got %q", got)
	}
	got = T(LocaleZH, KeyCommandDisabled, "/ask")
	if !strings.Contains(got, "/ask") {
		t.Errorf("got %q", got)
	}
}

func TestTFallsBackToEnglish(t *testing.T) {
	if got := T(Locale("fr"), KeyInternalError); got != "internal execution error" {
		t.Errorf("got %q", got)
	}
}

func TestTUnknownKeyEchoes(t *testing.T) {
	if got := T(LocaleEN, "no_such_key"); got != "no_such_key" {
		t.Errorf("got %q", got)
	}
}

func TestCataloguesComplete(t *testing.T) {
	en := catalogues[LocaleEN]
	zh := catalogues[LocaleZH]
	for key := range en {
		if _, ok := zh[key]; !ok {
			t.Errorf("zh catalogue missing %q", key)
		}
	}
	for key := range zh {
		if _, ok := en[key]; !ok {
			t.Errorf("en catalogue missing %q", key)
		}
	}
}
