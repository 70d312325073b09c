package security

import (
	"strings"
	"testing"
)

func TestSanitize_StripsTags(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "Hello F.A.R.H.A", want: "Hello F.A.R.H.A"},
		{name: "強調タグは除去される", input: "<b>bold</b> text", want: "bold text"},
		{name: "アンパサンドは復元される", input: "salt & pepper", want: "salt & pepper"},
		{name: "前後の空白は除去される", input: "  hi  ", want: "hi"},
		{name: "空文字列", input: "", want: ""},
		{name: "タグのみ", input: "<br/>", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitize_RemovesScriptContent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	got := sanitizer.Sanitize(`hello<script>alert("xss")</script>`)
	if strings.Contains(got, "alert") {
		t.Errorf("script content should be removed, got %q", got)
	}
	if !strings.Contains(got, "hello") {
		t.Errorf("surrounding text should remain, got %q", got)
	}
}

func TestSanitize_RemovesEventAttributes(t *testing.T) {
	sanitizer := NewTextSanitizer()

	got := sanitizer.Sanitize(`<img src="x" onerror="alert(1)">caption`)
	if strings.Contains(got, "onerror") || strings.Contains(got, "<img") {
		t.Errorf("img tag should be removed, got %q", got)
	}
	if got != "caption" {
		t.Errorf("Sanitize() = %q, want %q", got, "caption")
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	input := "<p>Tell me about <em>Go</em></p>"
	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(first)
	if first != second {
		t.Errorf("not idempotent: %q then %q", first, second)
	}
}

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizerService = NewTextSanitizer()
}
