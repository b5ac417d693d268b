package ports

import "context"

type MessageRef struct {
	ID       string
	ThreadID string
}

// Mailbox is the remote message API boundary. Implementations page through
// results internally; maxResults caps the total returned.
type Mailbox interface {
	SearchMessages(ctx context.Context, query string, maxResults int) ([]MessageRef, error)
	GetMessageBody(ctx context.Context, id string) (string, error)
	ModifyLabels(ctx context.Context, id string, add, remove []string) error
}

type Contacts interface {
	CreateContact(ctx context.Context, email string) error
}
