package ports

import (
	"context"

	"github.com/bnema/gmail-fleet/internal/domain"
)

// CredentialSource is the persistence boundary for account credentials.
// Load returns domain.ErrCredentialUnavailable when no blob exists.
type CredentialSource interface {
	Load(ctx context.Context, id domain.AccountID) (domain.Credential, error)
	Save(ctx context.Context, id domain.AccountID, cred domain.Credential) error
	Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error)
}

// Authorizer runs one interactive authorization handshake for an account.
// The session, when non-nil, is used to drive the provider's consent page;
// a nil session means the caller handles navigation out of band.
type Authorizer interface {
	Authorize(ctx context.Context, id domain.AccountID, session BrowserSession) (domain.Credential, error)
}
