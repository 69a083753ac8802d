package siteconfig

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// TransformFrontmatterContent tags a field as the frontmatter document body.
// As a transform it is the identity; the serializer looks for the tag.
const TransformFrontmatterContent = "frontmatterContent"

// TransformFunc is a pure string transform applied to a field value.
type TransformFunc func(string) string

var transformRegistry = map[string]TransformFunc{
	"md5": func(value string) string {
		sum := md5.Sum([]byte(value))
		return hex.EncodeToString(sum[:])
	},
	"upcase":                    strings.ToUpper,
	"downcase":                  strings.ToLower,
	TransformFrontmatterContent: func(value string) string { return value },
}

// KnownTransform reports whether name is in the registry. Config compilation
// rejects unknown names so misconfiguration fails at load, not at use.
func KnownTransform(name string) bool {
	_, ok := transformRegistry[name]
	return ok
}

// ApplyTransform runs the named transform on value.
func ApplyTransform(name, value string) string {
	fn, ok := transformRegistry[name]
	if !ok {
		return value
	}
	return fn(value)
}
