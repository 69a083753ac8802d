package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{(.*?)\}`)

// PlaceholderContext is the lookup environment for template resolution.
type PlaceholderContext struct {
	UID     string
	Fields  domain.Fields
	Options domain.Options
	Now     func() time.Time
}

func (c PlaceholderContext) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// ResolvePlaceholders expands {…} tokens in path, filename and commit
// message templates. Unresolvable dotted paths become the empty string;
// site authors are forgiven rather than failed.
func ResolvePlaceholders(template string, ctx PlaceholderContext) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		token := match[1 : len(match)-1]

		switch {
		case token == "@timestamp":
			return strconv.FormatInt(ctx.now().UnixMilli(), 10)
		case token == "@id":
			return ctx.UID
		case strings.HasPrefix(token, "@date:"):
			pattern := strings.TrimPrefix(token, "@date:")
			return ctx.now().Format(dateLayout(pattern))
		default:
			return lookupToken(token, ctx)
		}
	})
}

// lookupToken resolves a dotted path, first against fields, then options.
func lookupToken(token string, ctx PlaceholderContext) string {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return ""
	}

	switch parts[0] {
	case "fields":
		return stringify(lookupMap(map[string]any(ctx.Fields), parts[1]))
	case "options":
		return stringify(lookupMap(map[string]any(ctx.Options), parts[1]))
	}
	return ""
}

func lookupMap(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = m
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = node[part]
	}
	return current
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return value
	default:
		return fmt.Sprintf("%v", value)
	}
}

// momentReplacer maps the date-pattern vocabulary used by site configs to
// Go reference-layout fragments. Longer tokens come first so YYYY wins over
// YY.
var momentReplacer = strings.NewReplacer(
	"YYYY", "2006",
	"YY", "06",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func dateLayout(pattern string) string {
	return momentReplacer.Replace(pattern)
}
