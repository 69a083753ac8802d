package siteconfig

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-yaml/yaml"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

// DecryptFunc is the process-wide decryption capability. Site owners commit
// secrets encrypted with the server's public key.
type DecryptFunc func(ciphertext string) (string, error)

// GeneratorKind is the closed set of generated-field rules.
type GeneratorKind string

const (
	GeneratorLiteral GeneratorKind = "literal"
	GeneratorDate    GeneratorKind = "date"
	GeneratorSlugify GeneratorKind = "slugify"
	GeneratorUser    GeneratorKind = "user"
)

// Date format options for the date generator.
const (
	DateISO8601          = "iso8601"
	DateTimestamp        = "timestamp"
	DateTimestampSeconds = "timestamp-seconds"
)

// Generator is one compiled generated-field rule. Rules keep their config
// order, so later rules can read fields produced by earlier ones.
type Generator struct {
	Field       string
	Kind        GeneratorKind
	DateFormat  string // date
	SourceField string // slugify
	Property    string // user
	Literal     any    // literal
}

type Notifications struct {
	Enabled     bool
	APIKey      string // decrypted
	Domain      string // decrypted
	FromAddress string
}

type ReCaptcha struct {
	Enabled bool
	SiteKey string
	Secret  string // decrypted
}

// SiteConfig is the resolved, typed view of one property's configuration.
type SiteConfig struct {
	AllowedFields   []string
	AllowedOrigins  []string
	Branch          string
	CommitMessage   string
	Extension       string
	Filename        string
	Format          string
	Generated       []Generator
	MailingList     string
	Moderation      bool
	Name            string
	Notifications   Notifications
	Path            string
	PullRequestBody string
	RequiredFields  []string
	Transforms      map[string][]string
	ReCaptcha       ReCaptcha
}

const defaultPullRequestBody = "Dear human,\n\n" +
	"Here's a new entry for your approval.\n\n" +
	"Merge the pull request to accept it, or close it to send it away.\n\n" +
	"-Comment Bot\n\n---\n"

// rawConfig mirrors the YAML schema before compilation. generatedFields uses
// yaml.MapSlice to preserve the author's rule order.
type rawConfig struct {
	AllowedFields   []string      `yaml:"allowedFields"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	Branch          string        `yaml:"branch"`
	CommitMessage   string        `yaml:"commitMessage"`
	Extension       string        `yaml:"extension"`
	Filename        string        `yaml:"filename"`
	Format          string        `yaml:"format"`
	GeneratedFields yaml.MapSlice `yaml:"generatedFields"`
	MailingList     string        `yaml:"mailingList"`
	Moderation      *bool         `yaml:"moderation"`
	Name            string        `yaml:"name"`
	Notifications   map[any]any   `yaml:"notifications"`
	Path            string        `yaml:"path"`
	PullRequestBody string        `yaml:"pullRequestBody"`
	RequiredFields  []string      `yaml:"requiredFields"`
	Transforms      yaml.MapSlice `yaml:"transforms"`
	ReCaptcha       map[any]any   `yaml:"reCaptcha"`
}

// requiredKeys must be present in the raw document for a valid site setup.
var requiredKeys = []string{"allowedFields", "branch", "format", "path"}

// Parse extracts the section at path from a YAML document and compiles it.
// With validate set, a missing section or missing required keys fail with
// the corresponding config error.
func Parse(document []byte, path string, validate bool, decrypt DecryptFunc) (*SiteConfig, error) {
	var root map[any]any
	if err := yaml.Unmarshal(document, &root); err != nil {
		return nil, domain.NewError(domain.CodeInvalidConfig, "could not parse site config file")
	}

	node := lookupPath(root, path)
	if validate {
		if node == nil {
			return nil, domain.ErrMissingConfig
		}
		if missing := missingRequired(node); len(missing) > 0 {
			return nil, domain.NewError(domain.CodeMissingConfigFields, "missing config fields", missing...)
		}
	}

	raw, err := decodeRaw(node)
	if err != nil {
		return nil, err
	}

	return compile(raw, decrypt)
}

// lookupPath walks a dotted path into the parsed document. Empty path means
// the whole document.
func lookupPath(root map[any]any, path string) map[any]any {
	node := root
	if path == "" {
		return node
	}
	for _, part := range strings.Split(path, ".") {
		child, ok := node[part].(map[any]any)
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

func missingRequired(node map[any]any) []string {
	var missing []string
	for _, key := range requiredKeys {
		if _, ok := node[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// decodeRaw round-trips the selected node through YAML into the typed raw
// schema.
func decodeRaw(node map[any]any) (*rawConfig, error) {
	if node == nil {
		node = map[any]any{}
	}
	buf, err := yaml.Marshal(node)
	if err != nil {
		return nil, domain.NewError(domain.CodeInvalidConfig, "could not process site config section")
	}
	var raw rawConfig
	if err := yaml.Unmarshal(buf, &raw); err != nil {
		return nil, domain.NewError(domain.CodeInvalidConfig, "could not process site config section")
	}
	return &raw, nil
}

func compile(raw *rawConfig, decrypt DecryptFunc) (*SiteConfig, error) {
	cfg := &SiteConfig{
		AllowedFields:   raw.AllowedFields,
		AllowedOrigins:  raw.AllowedOrigins,
		Branch:          raw.Branch,
		CommitMessage:   raw.CommitMessage,
		Extension:       raw.Extension,
		Filename:        raw.Filename,
		Format:          raw.Format,
		MailingList:     raw.MailingList,
		Moderation:      true,
		Name:            raw.Name,
		Path:            raw.Path,
		PullRequestBody: raw.PullRequestBody,
		RequiredFields:  raw.RequiredFields,
	}

	if raw.Moderation != nil {
		cfg.Moderation = *raw.Moderation
	}
	if cfg.Format == "" {
		cfg.Format = "yml"
	}
	if cfg.CommitMessage == "" {
		cfg.CommitMessage = "Add Comment Bot data"
	}
	if cfg.Path == "" {
		cfg.Path = "_data/results/{@timestamp}"
	}
	if cfg.PullRequestBody == "" {
		cfg.PullRequestBody = defaultPullRequestBody
	}

	generated, err := compileGenerators(raw.GeneratedFields)
	if err != nil {
		return nil, err
	}
	cfg.Generated = generated

	transforms, err := compileTransforms(raw.Transforms)
	if err != nil {
		return nil, err
	}
	cfg.Transforms = transforms

	cfg.Notifications = Notifications{
		Enabled:     boolAt(raw.Notifications, "enabled"),
		APIKey:      decryptAt(raw.Notifications, "apiKey", decrypt),
		Domain:      decryptAt(raw.Notifications, "domain", decrypt),
		FromAddress: stringAt(raw.Notifications, "fromAddress"),
	}
	cfg.ReCaptcha = ReCaptcha{
		Enabled: boolAt(raw.ReCaptcha, "enabled"),
		SiteKey: stringAt(raw.ReCaptcha, "siteKey"),
		Secret:  decryptAt(raw.ReCaptcha, "secret", decrypt),
	}

	return cfg, nil
}

// compileGenerators turns the generatedFields mapping into an ordered rule
// list. Unknown rule types fail here rather than silently at use time.
func compileGenerators(entries yaml.MapSlice) ([]Generator, error) {
	var rules []Generator
	for _, item := range entries {
		field, ok := item.Key.(string)
		if !ok {
			return nil, domain.NewError(domain.CodeInvalidConfig, "generated field names must be strings")
		}

		spec, isMap := item.Value.(map[any]any)
		if !isMap {
			rules = append(rules, Generator{Field: field, Kind: GeneratorLiteral, Literal: item.Value})
			continue
		}

		kind, _ := spec["type"].(string)
		options, _ := spec["options"].(map[any]any)

		switch GeneratorKind(kind) {
		case GeneratorDate:
			format := stringAt(options, "format")
			if format == "" {
				format = DateISO8601
			}
			switch format {
			case DateISO8601, DateTimestamp, DateTimestampSeconds:
			default:
				return nil, domain.NewError(domain.CodeInvalidConfig,
					fmt.Sprintf("unknown date format %q for generated field %q", format, field))
			}
			rules = append(rules, Generator{Field: field, Kind: GeneratorDate, DateFormat: format})
		case GeneratorSlugify:
			source := stringAt(options, "field")
			if source == "" {
				return nil, domain.NewError(domain.CodeInvalidConfig,
					fmt.Sprintf("slugify generated field %q needs an options.field", field))
			}
			rules = append(rules, Generator{Field: field, Kind: GeneratorSlugify, SourceField: source})
		case GeneratorUser:
			property := stringAt(options, "property")
			if property == "" {
				property = "username"
			}
			rules = append(rules, Generator{Field: field, Kind: GeneratorUser, Property: property})
		default:
			return nil, domain.NewError(domain.CodeInvalidConfig,
				fmt.Sprintf("unknown generated field type %q for field %q", kind, field))
		}
	}
	return rules, nil
}

// compileTransforms normalizes transform values (a name or a list of names)
// and rejects names missing from the registry.
func compileTransforms(entries yaml.MapSlice) (map[string][]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string][]string, len(entries))
	for _, item := range entries {
		field, ok := item.Key.(string)
		if !ok {
			return nil, domain.NewError(domain.CodeInvalidConfig, "transform field names must be strings")
		}

		var names []string
		switch value := item.Value.(type) {
		case string:
			names = []string{value}
		case []any:
			for _, v := range value {
				name, ok := v.(string)
				if !ok {
					return nil, domain.NewError(domain.CodeInvalidConfig,
						fmt.Sprintf("transform names for field %q must be strings", field))
				}
				names = append(names, name)
			}
		default:
			return nil, domain.NewError(domain.CodeInvalidConfig,
				fmt.Sprintf("transforms for field %q must be a name or list of names", field))
		}

		for _, name := range names {
			if !KnownTransform(name) {
				return nil, domain.NewError(domain.CodeInvalidConfig,
					fmt.Sprintf("unknown transform %q for field %q", name, field))
			}
		}
		out[field] = names
	}
	return out, nil
}

// FrontmatterContentField returns the field tagged as the frontmatter body,
// or "" if none is.
func (c *SiteConfig) FrontmatterContentField() string {
	for field, names := range c.Transforms {
		for _, name := range names {
			if name == TransformFrontmatterContent {
				return field
			}
		}
	}
	return ""
}

// FileExtension is the configured extension override, else the format's
// default.
func (c *SiteConfig) FileExtension() string {
	if c.Extension != "" {
		return c.Extension
	}
	return ExtensionForFormat(c.Format)
}

// ExtensionForFormat maps a serialization format to its file extension.
func ExtensionForFormat(format string) string {
	switch strings.ToLower(format) {
	case "json":
		return "json"
	case "frontmatter":
		return "md"
	default:
		return "yml"
	}
}

func stringAt(m map[any]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolAt(m map[any]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// decryptAt decrypts an encrypted-string config value. Failures are logged
// but not fatal here; a bad secret surfaces when the value is used.
func decryptAt(m map[any]any, key string, decrypt DecryptFunc) string {
	ciphertext := stringAt(m, key)
	if ciphertext == "" || decrypt == nil {
		return ""
	}
	plaintext, err := decrypt(ciphertext)
	if err != nil {
		slog.Warn("could not decrypt site config value",
			slog.String("key", key),
			slog.String("error", err.Error()),
			slog.String("module", "siteconfig"),
		)
		return ""
	}
	return plaintext
}
