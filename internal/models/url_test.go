package models

import "testing"

func TestNormalizeSourceURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Example.org/Grants/", "https://example.org/grants"},
		{"https://example.org/grants?utm_source=x#apply", "https://example.org/grants"},
		{"http://example.org", "http://example.org"},
		{"  https://example.org/a/b//  ", "https://example.org/a/b"},
		{"example.org/path/?q=1", "example.org/path"},
		{"https://www.campusfrance.org/fr/bourse-d'études-2026", "https://www.campusfrance.org/fr/bourse-d'études-2026"},
		{"https://example.org/call for proposals/", "https://example.org/call for proposals"},
	}
	for _, tt := range tests {
		if got := NormalizeSourceURL(tt.in); got != tt.want {
			t.Fatalf("NormalizeSourceURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := NormalizeSourceURL(tt.want); again != tt.want {
			t.Fatalf("NormalizeSourceURL not stable for %q: %q", tt.want, again)
		}
	}
}

func TestNormalizeSourceURLEscapedAndRawAgree(t *testing.T) {
	pairs := [][2]string{
		{"https://x.org/bourse-études", "https://x.org/bourse-%C3%A9tudes"},
		{"https://www.campusfrance.org/fr/bourse-d'études-2026", "https://www.campusfrance.org/fr/bourse-d%27%c3%a9tudes-2026"},
		{"https://example.org/call for proposals/", "https://example.org/call%20for%20proposals"},
	}
	for _, p := range pairs {
		a, b := NormalizeSourceURL(p[0]), NormalizeSourceURL(p[1])
		if a != b {
			t.Fatalf("keys differ for %q and %q: %q vs %q", p[0], p[1], a, b)
		}
	}
}
