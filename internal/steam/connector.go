package steam

import (
	"context"
)

// Credentials carries everything a connector may need to establish a
// session. RefreshToken takes precedence over Login/Password when set.
type Credentials struct {
	Login         string
	Password      string
	TwoFactorCode string
	RefreshToken  string
	SteamID       string
}

// Conn is one live Steam session
type Conn interface {
	// SteamID returns the 64-bit Steam ID of the session, "" if unknown
	SteamID() string

	// RefreshToken returns a renewed durable token, "" if none was issued
	RefreshToken() string

	// PostComment posts a comment on the target profile and returns the
	// comment handle
	PostComment(ctx context.Context, targetSteamID, text string) (string, error)

	// Done is closed when the session is lost out-of-band
	Done() <-chan struct{}

	// Close terminates the session
	Close() error
}

// Connector abstracts the Steam network protocol. The wire protocol
// itself lives outside this module; a connector implementation is
// injected at assembly time.
type Connector interface {
	Connect(ctx context.Context, creds Credentials) (Conn, error)
}
