package usecase

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/siteconfig"
)

// validateFields checks the submitted map against the allow/require lists
// and returns a trimmed copy. Both checks run to completion so the caller
// sees every violation at once, not one per attempt.
func validateFields(fields domain.Fields, cfg *siteconfig.SiteConfig) (domain.Fields, error) {
	out := make(domain.Fields, len(fields))

	allowed := make(map[string]bool, len(cfg.AllowedFields))
	for _, name := range cfg.AllowedFields {
		allowed[name] = true
	}

	var invalid []string
	for name, value := range fields {
		if s, ok := value.(string); ok {
			value = strings.TrimSpace(s)
		}
		out[name] = value

		if !allowed[name] && value != "" {
			invalid = append(invalid, name)
		}
	}

	var missing []string
	for _, name := range cfg.RequiredFields {
		if value, ok := out[name]; !ok || value == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, domain.NewError(domain.CodeMissingRequiredFields, "missing required fields", missing...)
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, domain.NewError(domain.CodeInvalidFields, "invalid fields", invalid...)
	}

	return out, nil
}

// applyGeneratedFields evaluates the compiled generator rules in config
// order. Generated fields bypass the allow-list by design.
func applyGeneratedFields(fields domain.Fields, cfg *siteconfig.SiteConfig, user *domain.User, now func() time.Time) domain.Fields {
	if len(cfg.Generated) == 0 {
		return fields
	}

	out := fields.Clone()
	for _, rule := range cfg.Generated {
		switch rule.Kind {
		case siteconfig.GeneratorLiteral:
			out[rule.Field] = rule.Literal
		case siteconfig.GeneratorDate:
			out[rule.Field] = generateDate(rule.DateFormat, now())
		case siteconfig.GeneratorSlugify:
			if source, ok := out[rule.SourceField].(string); ok {
				out[rule.Field] = slugify(source)
			}
		case siteconfig.GeneratorUser:
			if user != nil {
				out[rule.Field] = user.Property(rule.Property)
			}
		}
	}
	return out
}

func generateDate(format string, t time.Time) any {
	switch format {
	case siteconfig.DateTimestamp:
		return t.UnixMilli()
	case siteconfig.DateTimestampSeconds:
		return t.Unix()
	default:
		return t.UTC().Format(time.RFC3339)
	}
}

// applyTransforms runs each field's transform chain in order.
func applyTransforms(fields domain.Fields, cfg *siteconfig.SiteConfig) domain.Fields {
	if len(cfg.Transforms) == 0 {
		return fields
	}

	out := fields.Clone()
	for field, names := range cfg.Transforms {
		value, ok := out[field].(string)
		if !ok || value == "" {
			continue
		}
		for _, name := range names {
			value = siteconfig.ApplyTransform(name, value)
		}
		out[field] = value
	}
	return out
}

// applyInternalFields prepends _id and, for threaded replies, _parent.
// Internal fields win over same-named submitted fields.
func applyInternalFields(fields domain.Fields, uid, parent string) domain.Fields {
	out := fields.Clone()
	out["_id"] = uid
	if parent != "" {
		out["_parent"] = parent
	}
	return out
}

var (
	slugStrip    = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugCollapse = regexp.MustCompile(`[\s-]+`)
)

// slugify lowers a field value into a URL-safe slug, folding accented
// characters to their base form first.
func slugify(value string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, value)
	if err != nil {
		folded = value
	}

	slug := strings.ToLower(folded)
	slug = slugStrip.ReplaceAllString(slug, "")
	slug = slugCollapse.ReplaceAllString(strings.TrimSpace(slug), "-")
	return slug
}
