package usecase

import (
	"testing"
	"time"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

func TestResolvePlaceholdersStatic(t *testing.T) {
	ctx := PlaceholderContext{UID: "uid-1"}
	if got := ResolvePlaceholders("static/path", ctx); got != "static/path" {
		t.Fatalf("expected template unchanged, got %q", got)
	}
}

func TestResolvePlaceholdersID(t *testing.T) {
	ctx := PlaceholderContext{UID: "uid-1"}
	for i := 0; i < 3; i++ {
		if got := ResolvePlaceholders("{@id}", ctx); got != "uid-1" {
			t.Fatalf("expected run id, got %q", got)
		}
	}
}

func TestResolvePlaceholdersTimestamp(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	ctx := PlaceholderContext{UID: "uid-1", Now: func() time.Time { return now }}

	if got := ResolvePlaceholders("{@timestamp}", ctx); got != "1700000000123" {
		t.Fatalf("unexpected timestamp: %q", got)
	}
}

func TestResolvePlaceholdersDate(t *testing.T) {
	now := time.Date(2023, time.November, 14, 22, 13, 20, 0, time.UTC)
	ctx := PlaceholderContext{UID: "uid-1", Now: func() time.Time { return now }}

	if got := ResolvePlaceholders("{@date:YYYY-MM-DD}", ctx); got != "2023-11-14" {
		t.Fatalf("unexpected date: %q", got)
	}
	if got := ResolvePlaceholders("{@date:YYYY/MM}", ctx); got != "2023/11" {
		t.Fatalf("unexpected date: %q", got)
	}
}

func TestResolvePlaceholdersLookups(t *testing.T) {
	ctx := PlaceholderContext{
		UID:     "uid-1",
		Fields:  domain.Fields{"slug": "my-post", "author": map[string]any{"name": "jane"}},
		Options: domain.Options{"section": "news"},
	}

	cases := []struct {
		template string
		want     string
	}{
		{"_data/{fields.slug}", "_data/my-post"},
		{"{fields.author.name}", "jane"},
		{"{options.section}/{fields.slug}", "news/my-post"},
		{"{fields.slug}-{fields.slug}", "my-post-my-post"},
		{"{fields.missing}", ""},
		{"{options.missing.deep}", ""},
		{"{bogus}", ""},
	}

	for _, tc := range cases {
		if got := ResolvePlaceholders(tc.template, ctx); got != tc.want {
			t.Fatalf("resolve(%q) = %q, want %q", tc.template, got, tc.want)
		}
	}
}
