package usecase

import (
	"context"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

// RepoHost is the repository-hosting capability, scoped to one repository.
// Implementations surface failures as *domain.UpstreamError.
type RepoHost interface {
	ReadFile(ctx context.Context, path, ref string) ([]byte, error)
	GetBranchHead(ctx context.Context, branch string) (string, error)
	CreateBranch(ctx context.Context, name, fromCommit string) error
	// DeleteBranch treats an already-deleted branch as a no-op; webhook
	// deliveries may arrive more than once.
	DeleteBranch(ctx context.Context, name string) error
	CommitFile(ctx context.Context, path string, content []byte, branch, message string) error
	CreateReview(ctx context.Context, title, headBranch, baseBranch, body string) (int, error)
	GetReview(ctx context.Context, id int) (domain.Review, error)
}

// RepoHostFactory builds a host client bound to a submission's target
// repository.
type RepoHostFactory interface {
	NewClient(params domain.Parameters) RepoHost
}

// MailProvider is the mail-delivery capability for one sending domain.
type MailProvider interface {
	Domain() string
	Send(ctx context.Context, to, from, subject, html string) error
	ListInfo(ctx context.Context, address string) error
	CreateList(ctx context.Context, address string) error
	AddListMember(ctx context.Context, address, email string) error
}

// MailProviderFactory builds a provider client. Site configs may carry their
// own credentials, which override the process-wide ones.
type MailProviderFactory interface {
	NewClient(apiKey, domain string) MailProvider
}

// CaptchaVerifier is the human-verification capability.
type CaptchaVerifier interface {
	Verify(ctx context.Context, secret, response, remoteIP string) (bool, error)
}

// RepoHostFactoryFunc adapts a constructor function to RepoHostFactory.
type RepoHostFactoryFunc func(params domain.Parameters) RepoHost

func (f RepoHostFactoryFunc) NewClient(params domain.Parameters) RepoHost { return f(params) }

// MailProviderFactoryFunc adapts a constructor function to
// MailProviderFactory.
type MailProviderFactoryFunc func(apiKey, domain string) MailProvider

func (f MailProviderFactoryFunc) NewClient(apiKey, domain string) MailProvider {
	return f(apiKey, domain)
}
