package emoji

import "testing"

func TestSanitizeCustom(t *testing.T) {
	for _, input := range []string{"<:fire:123456789>", `\<:fire:123456789>`, "fire:123456789", ":fire:123456789"} {
		e := Sanitize(input)
		if e.Format != FormatCustom || e.Name != "fire" || e.ID != "123456789" {
			t.Fatalf("%q: unexpected %#v", input, e)
		}
		if e.APIName() != "fire:123456789" || e.String() != "<:fire:123456789>" {
			t.Fatalf("%q: unexpected rendering %s / %s", input, e.APIName(), e.String())
		}
	}

	animated := Sanitize("<a:party:987654321>")
	if !animated.Animated || animated.String() != "<a:party:987654321>" {
		t.Fatalf("unexpected animated emoji %#v", animated)
	}
}

func TestSanitizeUnicode(t *testing.T) {
	for _, input := range []string{"🔥", "👍🏽", "🇧🇷", "❤️"} {
		e := Sanitize(input)
		if e.Format != FormatUnicode || e.Name != input {
			t.Fatalf("%q: unexpected %#v", input, e)
		}
		if e.APIName() != input {
			t.Fatalf("%q: unexpected api name %s", input, e.APIName())
		}
	}
}

func TestSanitizeInvalid(t *testing.T) {
	for _, input := range []string{"", "fire", ":fire:", "🔥🔥", "abc:12"} {
		if e := Sanitize(input); e.Format != FormatInvalid {
			t.Fatalf("%q: expected invalid, got %#v", input, e)
		}
	}
	if _, err := Parse("nope"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMatches(t *testing.T) {
	custom := Sanitize("<:fire:123456789>")
	if !custom.Matches("123456789", "whatever") || custom.Matches("", "fire") {
		t.Fatalf("custom emoji should match by id")
	}
	unicodeEmoji := Sanitize("🔥")
	if !unicodeEmoji.Matches("", "🔥") || unicodeEmoji.Matches("1", "🔥") {
		t.Fatalf("unicode emoji should match by name")
	}
}
