package i18n

import "testing"

func TestLookupFallbacks(t *testing.T) {
	catalog, err := Load("en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := catalog.T("pt-BR", "report_canceled", nil); got != "Denúncia cancelada." {
		t.Fatalf("unexpected pt-BR message %q", got)
	}
	if got := catalog.T("en-US", "report_canceled", nil); got != "Report canceled." {
		t.Fatalf("base language lookup failed: %q", got)
	}
	if got := catalog.T("fr", "report_canceled", nil); got != "Report canceled." {
		t.Fatalf("fallback lookup failed: %q", got)
	}
	if got := catalog.T("en", "no_such_key", nil); got != "no_such_key" {
		t.Fatalf("unknown keys should be returned as is: %q", got)
	}
}

func TestVariables(t *testing.T) {
	catalog, err := Load("en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := catalog.T("en", "preset_created", map[string]any{"name": "report1"})
	if got != "**report1** is now active." {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestEveryLocaleHasEveryKey(t *testing.T) {
	catalog, err := Load("en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for key := range catalog.messages["en"] {
		for lang, messages := range catalog.messages {
			if _, ok := messages[key]; !ok {
				t.Fatalf("locale %s misses %s", lang, key)
			}
		}
	}
}
