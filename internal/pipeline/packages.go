package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/outpostmail/outpost/internal/api"
	"github.com/outpostmail/outpost/internal/crypto"
	"github.com/outpostmail/outpost/internal/message"
	"github.com/outpostmail/outpost/internal/metrics"
)

// ErrMissingPreference means a recipient survived deduplication but has no
// resolved send preference. That is a pipeline bug or a stale resolver
// result, never a transient condition.
var ErrMissingPreference = errors.New("no send preference for recipient")

// PackageBuilder assembles the encrypted send packages for a draft.
// Recipients sharing an encryption profile share one package and one
// session key; the session key is then wrapped per recipient.
type PackageBuilder struct {
	crypto crypto.Cryptographer
	logger *slog.Logger
}

func NewPackageBuilder(c crypto.Cryptographer, logger *slog.Logger) *PackageBuilder {
	return &PackageBuilder{
		crypto: c,
		logger: logger.With("component", "package-builder"),
	}
}

// packageKey buckets recipients into packages. Two recipients land in the
// same package only when every field matches.
type packageKey struct {
	mimeType string
	encrypt  bool
	sign     bool
	scheme   api.PackageScheme
}

// Build produces the send packages for the draft. Packages come out in
// first-recipient order so the payload is deterministic for a given draft.
func (b *PackageBuilder) Build(draft *message.Draft, prefs map[string]SendPreference) ([]*api.SendPackage, error) {
	recipients := draft.Recipients()
	password := draft.Security.HasPassword()

	groups := make(map[packageKey][]string)
	var order []packageKey
	effective := make(map[string]SendPreference, len(recipients))

	for _, email := range recipients {
		pref, ok := prefs[email]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingPreference, email)
		}
		// A message password upgrades every recipient who would otherwise
		// receive cleartext to the password-protected external scheme.
		if password && pref.Scheme == api.SchemeCleartext {
			pref = SendPreference{
				Encrypt:  true,
				Sign:     pref.Sign,
				MIMEType: pref.MIMEType,
				Scheme:   api.SchemeEncryptedOutside,
			}
		}
		effective[email] = pref

		key := packageKey{
			mimeType: pref.MIMEType,
			encrypt:  pref.Encrypt,
			sign:     pref.Sign,
			scheme:   pref.Scheme,
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], email)
	}

	packages := make([]*api.SendPackage, 0, len(order))
	for _, key := range order {
		pkg, err := b.buildPackage(draft, key, groups[key], effective)
		if err != nil {
			return nil, err
		}
		metrics.RecordPackageBuilt(pkg.Scheme.String())
		packages = append(packages, pkg)
	}

	b.logger.Debug("packages built",
		"local_id", draft.LocalID,
		"recipients", len(recipients),
		"packages", len(packages))
	return packages, nil
}

func (b *PackageBuilder) buildPackage(draft *message.Draft, key packageKey, emails []string, prefs map[string]SendPreference) (*api.SendPackage, error) {
	sessionKey, err := b.crypto.NewSessionKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	body, err := b.crypto.EncryptPackageBody([]byte(draft.Body), sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt package body: %w", err)
	}

	pkg := &api.SendPackage{
		MIMEType:   key.mimeType,
		Scheme:     key.scheme,
		Body:       body,
		Recipients: make(map[string]api.PackageRecipient, len(emails)),
	}

	for _, email := range emails {
		pref := prefs[email]
		recipient := api.PackageRecipient{
			Scheme: pref.Scheme,
			Signed: pref.Sign,
		}

		switch pref.Scheme {
		case api.SchemeInternal, api.SchemePGPMIME, api.SchemePGPInline:
			wrapped, err := b.crypto.EncryptSessionKey(sessionKey, pref.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("failed to wrap session key for %s: %w", email, err)
			}
			recipient.SessionKey = wrapped

		case api.SchemeEncryptedOutside:
			packet, err := b.crypto.EncryptSessionKeyWithPassword(sessionKey, draft.Security.Password)
			if err != nil {
				return nil, fmt.Errorf("failed to wrap session key for %s: %w", email, err)
			}
			recipient.PasswordAuth = &api.PasswordAuth{
				KeyPacket:    packet,
				PasswordHint: draft.Security.PasswordHint,
			}

		case api.SchemeCleartext:
			// The server decrypts the body for cleartext delivery, so the
			// package carries the session key itself.
			pkg.BodyKey = sessionKey
		}

		pkg.Recipients[email] = recipient
	}

	return pkg, nil
}
