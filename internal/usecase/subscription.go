package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
	"github.com/tadmccorkle/static-comments-with-firebase/internal/siteconfig"
)

// MailDefaults are the process-wide mail settings, overridden per site when
// the site config carries its own (decrypted) credentials.
type MailDefaults struct {
	APIKey      string
	Domain      string
	FromAddress string
}

// SubscriptionUsecase manages per-entry mailing lists, the hashed-email
// confirmation flow and notification dispatch.
type SubscriptionUsecase struct {
	mail      MailProviderFactory
	defaults  MailDefaults
	apiOrigin string
	salt      string
}

func NewSubscriptionUsecase(mail MailProviderFactory, defaults MailDefaults, apiOrigin, salt string) *SubscriptionUsecase {
	return &SubscriptionUsecase{
		mail:      mail,
		defaults:  defaults,
		apiOrigin: apiOrigin,
		salt:      salt,
	}
}

// clientFor picks site credentials when present, process defaults otherwise.
func (uc *SubscriptionUsecase) clientFor(cfg *siteconfig.SiteConfig) MailProvider {
	apiKey := uc.defaults.APIKey
	domainName := uc.defaults.Domain
	if cfg != nil && cfg.Notifications.APIKey != "" {
		apiKey = cfg.Notifications.APIKey
	}
	if cfg != nil && cfg.Notifications.Domain != "" {
		domainName = cfg.Notifications.Domain
	}
	return uc.mail.NewClient(apiKey, domainName)
}

func (uc *SubscriptionUsecase) fromAddress(cfg *siteconfig.SiteConfig) string {
	if cfg != nil && cfg.Notifications.FromAddress != "" {
		return cfg.Notifications.FromAddress
	}
	return uc.defaults.FromAddress
}

// EntryListID is the stable hash keying an entry's mailing list.
func EntryListID(params domain.Parameters, entryID string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%s-%s", params.Username, params.Repository, entryID)))
	return hex.EncodeToString(sum[:])
}

// EmailHash is the stateless confirmation token: a salted hash that only
// someone who received our mail at that address can present back.
func (uc *SubscriptionUsecase) EmailHash(email string) string {
	sum := md5.Sum([]byte(email + uc.salt))
	return hex.EncodeToString(sum[:])
}

// listAddress derives the list address for an entry thread.
func (uc *SubscriptionUsecase) listAddress(mail MailProvider, params domain.Parameters, entryID string) string {
	return fmt.Sprintf("%s@%s", EntryListID(params, entryID), mail.Domain())
}

// listExists checks for the list, treating 404 as "no subscribers".
func (uc *SubscriptionUsecase) listExists(ctx context.Context, mail MailProvider, address string) (bool, error) {
	err := mail.ListInfo(ctx, address)
	if err == nil {
		return true, nil
	}
	if domain.UpstreamStatus(err) == 404 {
		return false, nil
	}
	return false, err
}

// Subscribe adds email to the entry's list, creating the list lazily. An
// already-subscribed member is success, not an error.
func (uc *SubscriptionUsecase) Subscribe(ctx context.Context, cfg *siteconfig.SiteConfig, params domain.Parameters, entryID, email string) error {
	mail := uc.clientFor(cfg)
	return uc.subscribeAddress(ctx, mail, uc.listAddress(mail, params, entryID), email)
}

func (uc *SubscriptionUsecase) subscribeAddress(ctx context.Context, mail MailProvider, address, email string) error {
	exists, err := uc.listExists(ctx, mail, address)
	if err != nil {
		return err
	}
	if !exists {
		if err := mail.CreateList(ctx, address); err != nil {
			return err
		}
	}

	err = mail.AddListMember(ctx, address, email)
	if err != nil && domain.UpstreamStatus(err) != 400 {
		return err
	}
	return nil
}

// ConfirmSiteSubscription verifies the hashed-email token and joins the
// site-wide mailing list.
func (uc *SubscriptionUsecase) ConfirmSiteSubscription(ctx context.Context, cfg *siteconfig.SiteConfig, email, emailHash string) error {
	if uc.EmailHash(email) != emailHash {
		return domain.ErrHashMismatch
	}
	if cfg.MailingList == "" {
		return domain.NewError(domain.CodeMissingConfigFields, "missing config fields", "mailingList")
	}

	mail := uc.clientFor(cfg)
	err := mail.AddListMember(ctx, cfg.MailingList, email)
	if err != nil && domain.UpstreamStatus(err) != 400 {
		return err
	}
	return nil
}

// ConfirmEntrySubscription verifies the hashed-email token and joins the
// entry thread list identified by entryHash.
func (uc *SubscriptionUsecase) ConfirmEntrySubscription(ctx context.Context, cfg *siteconfig.SiteConfig, entryHash, email, emailHash string) error {
	if uc.EmailHash(email) != emailHash {
		return domain.ErrHashMismatch
	}

	mail := uc.clientFor(cfg)
	address := fmt.Sprintf("%s@%s", entryHash, mail.Domain())
	return uc.subscribeAddress(ctx, mail, address, email)
}

// Notify emails the entry's subscriber list. A missing list means nobody
// subscribed; that is a silent no-op.
func (uc *SubscriptionUsecase) Notify(ctx context.Context, cfg *siteconfig.SiteConfig, params domain.Parameters, entryID string, options domain.Options) error {
	mail := uc.clientFor(cfg)
	address := uc.listAddress(mail, params, entryID)

	exists, err := uc.listExists(ctx, mail, address)
	if err != nil {
		return errors.Wrap(err, "looking up subscriber list")
	}
	if !exists {
		return nil
	}

	subject := "New reply"
	if cfg.Name != "" {
		subject = fmt.Sprintf("New reply on %q", cfg.Name)
	}

	slog.Info("notifying subscribers",
		slog.String("account", params.Username),
		slog.String("repository", params.Repository),
		slog.String("entry", entryID),
		slog.String("module", "subscriptions"),
	)

	return mail.Send(ctx, address, uc.fromAddress(cfg), subject, notificationBody(cfg.Name, options.Origin()))
}

// SendConfirmationRequest mails a one-time confirmation link for the
// site-wide mailing list.
func (uc *SubscriptionUsecase) SendConfirmationRequest(ctx context.Context, cfg *siteconfig.SiteConfig, params domain.Parameters, email string) error {
	link := fmt.Sprintf("%s/confirm/%s/%s/%s/%s/%s/%s",
		uc.apiOrigin, params.Username, params.Repository, params.Branch, params.Property,
		email, uc.EmailHash(email))

	mail := uc.clientFor(cfg)
	return mail.Send(ctx, email, uc.fromAddress(cfg), "Confirm your subscription", confirmationBody(cfg.Name, link))
}

// SendConfirmationRequestForEntry mails a one-time confirmation link for a
// single entry's thread.
func (uc *SubscriptionUsecase) SendConfirmationRequestForEntry(ctx context.Context, cfg *siteconfig.SiteConfig, params domain.Parameters, email, entryID string) error {
	link := fmt.Sprintf("%s/confirm/%s/%s/%s/%s/%s/%s/%s",
		uc.apiOrigin, params.Username, params.Repository, params.Branch, params.Property,
		EntryListID(params, entryID), email, uc.EmailHash(email))

	mail := uc.clientFor(cfg)
	return mail.Send(ctx, email, uc.fromAddress(cfg), "Confirm your subscription", confirmationBody(cfg.Name, link))
}

func notificationBody(siteName, origin string) string {
	onSite := ""
	if siteName != "" {
		onSite = fmt.Sprintf(" on <strong>%s</strong>", siteName)
	}
	seeIt := ""
	if origin != "" {
		seeIt = fmt.Sprintf(`<a href="%s">Click here</a> to see it. `, origin)
	}

	return fmt.Sprintf(`<html>
  <body>
    Dear human,<br>
    <br>
    Someone replied to a comment you subscribed to%s.
    <br><br>
    %sIf you do not wish to receive any further notifications for this thread, <a href="%%mailing_list_unsubscribe_url%%">click here</a>.
    <br><br>
    -Comment Bot
  </body>
</html>
`, onSite, seeIt)
}

func confirmationBody(siteName, link string) string {
	onSite := ""
	if siteName != "" {
		onSite = fmt.Sprintf(" on <strong>%s</strong>", siteName)
	}

	return fmt.Sprintf(`<html>
  <body>
    Dear human,<br>
    <br>
    Someone asked to subscribe this address to comment updates%s.
    <br><br>
    <a href="%s">Click here</a> to confirm. If that was not you, ignore this message.
    <br><br>
    -Comment Bot
  </body>
</html>
`, onSite, link)
}
