package htmlsanitize_test

import (
	"strings"
	"testing"

	"github.com/dalemusser/liveplay/internal/app/system/htmlsanitize"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		without string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain text", input: "Find the spy.", want: "Find the spy."},
		{name: "formatting kept", input: "<p><strong>Bold</strong> and <em>italic</em></p>", want: "<p><strong>Bold</strong> and <em>italic</em></p>"},
		{name: "lists kept", input: "<ul><li>One</li><li>Two</li></ul>", want: "<ul><li>One</li><li>Two</li></ul>"},
		{name: "script removed", input: "<p>Hi</p><script>alert('x')</script>", want: "<p>Hi</p>"},
		{name: "onclick removed", input: `<b onclick="alert(1)">x</b>`, without: "onclick"},
		{name: "javascript href removed", input: `<a href="javascript:alert(1)">x</a>`, without: "javascript:"},
		{name: "iframe removed", input: `<p>ok</p><iframe src="https://evil.example"></iframe>`, without: "iframe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := htmlsanitize.Sanitize(tt.input)
			if tt.without != "" {
				if strings.Contains(got, tt.without) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, tt.without)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"Ada", "Ada"},
		{"  Ada   Lovelace ", "Ada Lovelace"},
		{"<b>Ada</b>", "Ada"},
		{"<script>alert(1)</script>Bob", "Bob"},
		{"Tom & Jerry", "Tom & Jerry"},
		{"<img src=x onerror=alert(1)>", ""},
		{"Zoë", "Zoë"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := htmlsanitize.PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
