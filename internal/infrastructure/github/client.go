package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v74/github"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
)

const (
	perPage = 100

	// DefaultMaxPages caps member and invitation listings
	DefaultMaxPages = 100
)

// ErrUserNotFound is returned by GetUserID for unknown usernames
var ErrUserNotFound = errors.New("github: user not found")

// Config holds configuration for creating a Client
type Config struct {
	Token string
	Org   string

	// BaseURL points at a GitHub Enterprise or test server; empty means github.com.
	BaseURL string

	HTTPClient *http.Client
	MaxPages   int
	Logger     *slog.Logger
}

// Client manages organization membership. Calls are made exactly once;
// failures are reported to the caller without retry.
type Client struct {
	gh       *gh.Client
	org      string
	maxPages int
	logger   *slog.Logger
}

// NewClient creates an organization membership client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Org == "" {
		return nil, fmt.Errorf("github: org is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	client := gh.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github: invalid base url: %w", err)
		}
		client.BaseURL = base
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		gh:       client,
		org:      cfg.Org,
		maxPages: maxPages,
		logger:   logger.With(slog.String("component", "github"), slog.String("org", cfg.Org)),
	}, nil
}

// ListMembers returns the lower-cased logins of all organization members
func (c *Client) ListMembers(ctx context.Context) ([]string, error) {
	opts := &gh.ListMembersOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	var logins []string

	for page := 0; page < c.maxPages; page++ {
		members, resp, err := c.gh.Organizations.ListMembers(ctx, c.org, opts)
		if err != nil {
			return nil, fmt.Errorf("listing members of %s: %w", c.org, err)
		}
		for _, m := range members {
			if login := domain.Normalize(m.GetLogin()); login != "" {
				logins = append(logins, login)
			}
		}
		if resp.NextPage == 0 {
			return logins, nil
		}
		opts.Page = resp.NextPage
	}

	c.logger.Warn("member listing hit page ceiling", slog.Int("max_pages", c.maxPages))
	return logins, nil
}

// ListPendingInvitations returns the lower-cased logins holding an open invitation.
// Invitations sent by email only carry no login and are skipped.
func (c *Client) ListPendingInvitations(ctx context.Context) ([]string, error) {
	opts := &gh.ListOptions{PerPage: perPage}
	var logins []string

	for page := 0; page < c.maxPages; page++ {
		invitations, resp, err := c.gh.Organizations.ListPendingOrgInvitations(ctx, c.org, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pending invitations of %s: %w", c.org, err)
		}
		for _, inv := range invitations {
			if login := domain.Normalize(inv.GetLogin()); login != "" {
				logins = append(logins, login)
			}
		}
		if resp.NextPage == 0 {
			return logins, nil
		}
		opts.Page = resp.NextPage
	}

	c.logger.Warn("invitation listing hit page ceiling", slog.Int("max_pages", c.maxPages))
	return logins, nil
}

// GetUserID resolves a username to its numeric account id
func (c *Client) GetUserID(ctx context.Context, username string) (int64, error) {
	user, resp, err := c.gh.Users.Get(ctx, username)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return 0, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return 0, fmt.Errorf("looking up user %s: %w", username, err)
	}
	if user.GetID() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return user.GetID(), nil
}

// Invite sends an organization invitation to the account id with the member role
func (c *Client) Invite(ctx context.Context, userID int64) error {
	_, _, err := c.gh.Organizations.CreateOrgInvitation(ctx, c.org, &gh.CreateOrgInvitationOptions{
		InviteeID: gh.Ptr(userID),
		Role:      gh.Ptr("direct_member"),
	})
	if err != nil {
		return fmt.Errorf("inviting user id %d to %s: %w", userID, c.org, err)
	}
	return nil
}

// RemoveMember removes a user from the organization
func (c *Client) RemoveMember(ctx context.Context, username string) error {
	if _, err := c.gh.Organizations.RemoveMember(ctx, c.org, username); err != nil {
		return fmt.Errorf("removing %s from %s: %w", username, c.org, err)
	}
	return nil
}
