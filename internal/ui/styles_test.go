package ui

import (
	"strings"
	"testing"
)

func TestRenderPlainWhenDisabled(t *testing.T) {
	SetColor(false)
	defer func() { forced = nil }()

	for _, render := range []func(string) string{RenderAccent, RenderPass, RenderWarn, RenderFail, RenderMuted} {
		if got := render("✓"); got != "✓" {
			t.Errorf("render() = %q, want plain text", got)
		}
	}
}

func TestTable(t *testing.T) {
	SetColor(false)
	defer func() { forced = nil }()

	got := Table([]string{"ID", "SIZE"}, [][]string{
		{"a.txt", "5 B"},
		{"longer-name.bin", "1.0 KiB"},
	})

	want := strings.Join([]string{
		"ID               SIZE",
		"a.txt            5 B",
		"longer-name.bin  1.0 KiB",
		"",
	}, "\n")
	if got != want {
		t.Errorf("Table() =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
