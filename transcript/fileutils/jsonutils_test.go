package fileutils

import "testing"

func TestDecodeModelJSON(t *testing.T) {
	t.Parallel()

	var v struct {
		Text string `json:"text"`
	}
	if err := DecodeModelJSON(`sure! {"text":"hi"} done`, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Text != "hi" {
		t.Fatalf("Text=%q", v.Text)
	}
	if err := DecodeModelJSON("   ", &v); err == nil {
		t.Fatalf("expected error for blank input")
	}
	if err := DecodeModelJSON("no json here", &v); err == nil {
		t.Fatalf("expected error for missing object")
	}
}

func TestMarshalCompact_NoHTMLEscape(t *testing.T) {
	t.Parallel()

	got, err := MarshalCompact(map[string]string{"a": "<b>&"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got != `{"a":"<b>&"}` {
		t.Fatalf("got=%s", got)
	}
}
