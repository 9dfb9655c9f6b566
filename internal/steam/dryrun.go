package steam

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DryRunConnector establishes simulated sessions that log comments
// instead of posting them. Used for development and for builds without a
// wire-protocol connector.
type DryRunConnector struct {
	logger *zap.Logger
}

// NewDryRunConnector creates a dry-run connector
func NewDryRunConnector(logger *zap.Logger) *DryRunConnector {
	return &DryRunConnector{logger: logger.Named("steam-dryrun")}
}

// Connect implements Connector.Connect
func (c *DryRunConnector) Connect(ctx context.Context, creds Credentials) (Conn, error) {
	if creds.RefreshToken == "" && (creds.Login == "" || creds.Password == "") {
		return nil, fmt.Errorf("missing credentials for %q", creds.Login)
	}

	c.logger.Info("Dry-run session established", zap.String("login", creds.Login))

	return &dryRunConn{
		logger:  c.logger,
		login:   creds.Login,
		steamID: creds.SteamID,
		token:   creds.RefreshToken,
		done:    make(chan struct{}),
	}, nil
}

type dryRunConn struct {
	logger  *zap.Logger
	login   string
	steamID string
	token   string
	done    chan struct{}
}

func (c *dryRunConn) SteamID() string      { return c.steamID }
func (c *dryRunConn) RefreshToken() string { return c.token }

func (c *dryRunConn) PostComment(ctx context.Context, targetSteamID, text string) (string, error) {
	commentID := "dry-" + uuid.New().String()
	c.logger.Info("Dry-run comment",
		zap.String("login", c.login),
		zap.String("target", targetSteamID),
		zap.String("comment_id", commentID),
		zap.String("text", text))
	return commentID, nil
}

func (c *dryRunConn) Done() <-chan struct{} { return c.done }

func (c *dryRunConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}
