package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-yaml/yaml"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/siteconfig"
)

// Serialize renders the final record in the site's configured format.
func Serialize(fields domain.Fields, cfg *siteconfig.SiteConfig) ([]byte, error) {
	switch strings.ToLower(cfg.Format) {
	case "json":
		return json.Marshal(fields)
	case "yaml", "yml":
		return yaml.Marshal(map[string]any(fields))
	case "frontmatter":
		return serializeFrontmatter(fields, cfg)
	default:
		return nil, domain.ErrInvalidFormat
	}
}

// serializeFrontmatter splits the record into a YAML attribute block and a
// document body. Exactly one field must carry the frontmatterContent tag.
func serializeFrontmatter(fields domain.Fields, cfg *siteconfig.SiteConfig) ([]byte, error) {
	contentField := cfg.FrontmatterContentField()
	if contentField == "" {
		return nil, domain.ErrNoFrontmatter
	}

	body := fields[contentField]
	attributes := fields.Clone()
	delete(attributes, contentField)

	block, err := yaml.Marshal(map[string]any(attributes))
	if err != nil {
		return nil, err
	}

	return []byte(fmt.Sprintf("---\n%s---\n%v\n", block, body)), nil
}
