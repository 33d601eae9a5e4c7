package pdftext

import "testing"

func TestFromContentStream(t *testing.T) {
	// WHAT: Tj, TJ, ' and positioning operators produce readable text.
	// WHY: These are the operators statistical PDFs use for body text.
	stream := []byte("BT\n/F1 12 Tf\n72 712 Td\n(Quarterly) Tj\n0 -14 Td\n[(Energy ) -120 (Report)] TJ\nT*\n(Prices rose 3\\0562%) '\nET\n")
	got := FromContentStream(stream)
	want := "Quarterly Energy Report Prices rose 3.2%"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestUnescape(t *testing.T) {
	// WHAT: Escaped parentheses, backslashes and octal codes decode.
	// WHY: Literal strings routinely escape these.
	cases := map[string]string{
		`a\(b\)`:    "a(b)",
		`c\\d`:      `c\d`,
		`\101BC`:    "ABC",
		`x\tz`:      "x\tz",
		`trailing\`: `trailing\`,
	}
	for in, want := range cases {
		if got := unescape([]byte(in)); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
}

func TestExtract_Garbage(t *testing.T) {
	// WHAT: Non-PDF bytes return an error, never a panic.
	// WHY: A bad download must be recorded as a parse error with evidence kept.
	if _, err := Extract([]byte("this is not a pdf")); err == nil {
		t.Error("expected error")
	}
}

func TestFirstLine(t *testing.T) {
	// WHAT: The title is the first sentence, trimmed.
	// WHY: PDF metadata titles are often empty.
	if got := firstLine("Housing Report. Starts rose."); got != "Housing Report" {
		t.Errorf("got %q", got)
	}
}
