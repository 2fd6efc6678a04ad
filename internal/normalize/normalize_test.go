package normalize

import "testing"

func TestNormalize_EmptyInput(t *testing.T) {
	v := Normalize("   \n\n  ")
	if v.Original != "" || v.NoTimecodes != "" || v.NoHtml != "" || v.Clean != "" {
		t.Fatalf("expected all-empty variants for blank input, got %+v", v)
	}
}

func TestNormalize_StripsTimecodesAndCueNumbers(t *testing.T) {
	raw := "1\n00:00:01,000 --> 00:00:03,500\nHello there.\n\n2\n00:00:04,000 --> 00:00:06,000\nGeneral Kenobi.\n"
	v := Normalize(raw)

	if v.Original != raw {
		t.Fatalf("Original should be verbatim input")
	}
	if v.NoTimecodes == raw {
		t.Fatalf("NoTimecodes should differ from Original")
	}
	for _, bad := range []string{"00:00:01,000", "1\n", "2\n"} {
		if containsLine(v.NoTimecodes, bad) {
			t.Fatalf("NoTimecodes still contains %q", bad)
		}
	}
}

func TestNormalize_StripsHTMLAndAssOverrides(t *testing.T) {
	raw := "1\n00:00:01,000 --> 00:00:02,000\n<i>{\\an8}Hello <b>world</b></i>\n"
	v := Normalize(raw)

	if containsLine(v.NoHtml, "<i>") || containsLine(v.NoHtml, "{\\an8}") {
		t.Fatalf("NoHtml still contains markup: %q", v.NoHtml)
	}
}

func TestNormalize_CleanCollapsesWhitespaceAndIsIdempotent(t *testing.T) {
	raw := "1\n00:00:01,000 --> 00:00:02,000\n<i>Hello   world</i>\n\n\n2\n00:00:03,000 --> 00:00:04,000\nSecond   line\n"
	first := Normalize(raw)
	second := Normalize(first.Clean)

	if second.Clean != first.Clean {
		t.Fatalf("Normalize(Normalize(x).clean).clean must equal Normalize(x).clean: %q vs %q", second.Clean, first.Clean)
	}
}

func containsLine(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
