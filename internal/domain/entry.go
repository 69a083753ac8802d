package domain

// Parameters identify the target site for one submission. They control which
// site config is loaded and are never trusted beyond that.
type Parameters struct {
	Username   string `json:"username"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Property   string `json:"property"`
}

// ConfigPath locates the site configuration inside the target repository.
// Path selects a sub-object of the document; empty means the whole document.
type ConfigPath struct {
	File string `json:"file"`
	Path string `json:"path"`
}

// DefaultConfigPath returns the well-known config location for a property.
func DefaultConfigPath(property string) ConfigPath {
	return ConfigPath{
		File: "_comment-bot.yml",
		Path: property,
	}
}

// Fields is one entry's field name to value mapping.
type Fields map[string]any

// Clone returns a shallow copy. Pipeline stages copy before writing so a
// failed or retried stage never observes another stage's partial state.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Options carries the caller-supplied submission options. It stays a free
// map because sites may reference arbitrary option keys in placeholders.
type Options map[string]any

// String returns the option as a string, or "" when absent or non-string.
func (o Options) String(key string) string {
	s, _ := o[key].(string)
	return s
}

func (o Options) Parent() string        { return o.String("parent") }
func (o Options) Subscribe() string     { return o.String("subscribe") }
func (o Options) Redirect() string      { return o.String("redirect") }
func (o Options) RedirectError() string { return o.String("redirectError") }
func (o Options) Origin() string        { return o.String("origin") }

// CaptchaOption is the provider-specific verification payload sent by the
// client. Secret is encrypted with the server's public key.
type CaptchaOption struct {
	SiteKey  string `json:"siteKey"`
	Secret   string `json:"secret"`
	Response string `json:"response"`
}

// ReCaptcha extracts the verification payload, if one was sent.
func (o Options) ReCaptcha() *CaptchaOption {
	raw, ok := o["reCaptcha"].(map[string]any)
	if !ok {
		return nil
	}
	opt := &CaptchaOption{}
	opt.SiteKey, _ = raw["siteKey"].(string)
	opt.Secret, _ = raw["secret"].(string)
	opt.Response, _ = raw["response"].(string)
	return opt
}

// User is an authenticated identity, used by the `user` generated-field
// rule. Submissions without authentication have none.
type User struct {
	Type         string `json:"type"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Bio          string `json:"bio,omitempty"`
	SiteURL      string `json:"siteUrl,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// Property returns the named profile attribute, or "" if unknown.
func (u *User) Property(name string) string {
	switch name {
	case "type":
		return u.Type
	case "username":
		return u.Username
	case "email":
		return u.Email
	case "name":
		return u.Name
	case "avatarUrl":
		return u.AvatarURL
	case "bio":
		return u.Bio
	case "siteUrl":
		return u.SiteURL
	case "organization":
		return u.Organization
	}
	return ""
}

// ReviewState is the lifecycle state of a review as reported by the host.
type ReviewState string

const (
	ReviewOpen   ReviewState = "open"
	ReviewClosed ReviewState = "closed"
	ReviewMerged ReviewState = "merged"
)

// Review is the host's view of a moderation pull request.
type Review struct {
	Title        string
	Body         string
	State        ReviewState
	SourceBranch string
	BaseBranch   string
}

// BranchPrefix marks branches (and the reviews built on them) created by
// this service. Reviews from other sources are ignored outright.
const BranchPrefix = "comment-bot_"
