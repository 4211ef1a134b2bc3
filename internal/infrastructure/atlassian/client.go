package atlassian

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/reliability/retry"
)

const (
	// DefaultTimeout bounds a single admin API request
	DefaultTimeout = 30 * time.Second

	// DefaultMaxPages caps a bulk user listing
	DefaultMaxPages = 100

	maxResponseSize = 10 * 1024 * 1024
)

// Config holds configuration for creating an admin API Client
type Config struct {
	BaseURL string
	APIKey  string
	OrgID   string

	// HTTPClient defaults to a client with DefaultTimeout and an
	// OpenTelemetry transport.
	HTTPClient *http.Client

	// Retry applies to single-account operations only. Its classifier is
	// always replaced with IsRetryable.
	Retry *retry.Config

	MaxPages int
	Logger   *slog.Logger
}

// Client talks to the organization admin API of the collaboration suite
type Client struct {
	baseURL     string
	apiKey      string
	orgID       string
	httpClient  *http.Client
	retryConfig *retry.Config
	maxPages    int
	logger      *slog.Logger

	dirMu       sync.Mutex
	directoryID string
}

// NewClient creates an admin API client
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.OrgID == "" {
		return nil, fmt.Errorf("atlassian: api key and org id are required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.atlassian.com"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	retryConfig := retry.DefaultConfig()
	if cfg.Retry != nil {
		copied := *cfg.Retry
		retryConfig = &copied
	}
	retryConfig.Retryable = IsRetryable

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		orgID:       cfg.OrgID,
		httpClient:  httpClient,
		retryConfig: retryConfig,
		maxPages:    maxPages,
		logger:      logger.With(slog.String("component", "atlassian")),
	}, nil
}

type directoriesResponse struct {
	Data []struct {
		DirectoryID string `json:"directoryId"`
		Name        string `json:"name"`
	} `json:"data"`
}

type usersPage struct {
	Data  []wireUser `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

type wireUser struct {
	AccountID        string `json:"accountId"`
	Email            string `json:"email"`
	AccountStatus    string `json:"accountStatus"`
	MembershipStatus string `json:"membershipStatus"`
	AddedToOrg       string `json:"addedToOrg"`
}

type lastActiveResponse struct {
	Data struct {
		ProductAccess []struct {
			ID         string `json:"id"`
			Key        string `json:"key"`
			LastActive string `json:"last_active"`
		} `json:"product_access"`
	} `json:"data"`
}

// DirectoryID resolves the organization's directory once and reuses it
func (c *Client) DirectoryID(ctx context.Context) (string, error) {
	c.dirMu.Lock()
	defer c.dirMu.Unlock()
	if c.directoryID != "" {
		return c.directoryID, nil
	}

	var resp directoriesResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/admin/v2/orgs/%s/directories", c.baseURL, url.PathEscape(c.orgID)), &resp); err != nil {
		if IsNotFound(err) {
			return "", fmt.Errorf("resolving directory id: organization %s not found: %w", c.orgID, err)
		}
		return "", fmt.Errorf("resolving directory id: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].DirectoryID == "" {
		return "", fmt.Errorf("resolving directory id: organization %s has no directory", c.orgID)
	}
	c.directoryID = resp.Data[0].DirectoryID
	c.logger.Debug("resolved directory id", slog.String("directory_id", c.directoryID))
	return c.directoryID, nil
}

// ListTenantUsers walks the cursor-paginated user collection. Hitting the
// page ceiling, seeing a URL twice, or being rate limited ends the walk with
// the users collected so far; a 429 here is never retried.
func (c *Client) ListTenantUsers(ctx context.Context) ([]domain.TenantUser, error) {
	directoryID, err := c.DirectoryID(ctx)
	if err != nil {
		return nil, err
	}

	base := fmt.Sprintf("%s/admin/v2/orgs/%s/directories/%s/users", c.baseURL, url.PathEscape(c.orgID), url.PathEscape(directoryID))
	next := base
	seen := make(map[string]struct{})
	var users []domain.TenantUser

	for page := 1; ; page++ {
		if page > c.maxPages {
			c.logger.Warn("user listing hit page ceiling, returning partial results",
				slog.Int("max_pages", c.maxPages),
				slog.Int("users", len(users)),
			)
			return users, nil
		}
		if _, dup := seen[next]; dup {
			c.logger.Warn("user listing cursor repeated, returning partial results",
				slog.Int("page", page),
				slog.Int("users", len(users)),
			)
			return users, nil
		}
		seen[next] = struct{}{}

		var body usersPage
		if err := c.getJSON(ctx, next, &body); err != nil {
			if IsRateLimited(err) {
				c.logger.Warn("user listing rate limited, returning partial results",
					slog.Int("page", page),
					slog.Int("users", len(users)),
				)
				return users, nil
			}
			return nil, fmt.Errorf("listing tenant users (page %d): %w", page, err)
		}

		for _, u := range body.Data {
			users = append(users, toTenantUser(u))
		}

		if body.Links.Next == "" {
			return users, nil
		}
		next = base + "?cursor=" + url.QueryEscape(body.Links.Next)
	}
}

// GetLastActive fetches per-product last-active dates for one account
func (c *Client) GetLastActive(ctx context.Context, accountID string) (*domain.ActivityRecord, error) {
	endpoint := fmt.Sprintf("%s/admin/v1/orgs/%s/directory/users/%s/last-active-dates",
		c.baseURL, url.PathEscape(c.orgID), url.PathEscape(accountID))

	return retry.Do(ctx, c.retryConfig, c.logger, "GetLastActive", func(ctx context.Context) (*domain.ActivityRecord, error) {
		var resp lastActiveResponse
		if err := c.getJSON(ctx, endpoint, &resp); err != nil {
			return nil, err
		}
		record := &domain.ActivityRecord{AccountID: accountID}
		for _, p := range resp.Data.ProductAccess {
			product := p.Key
			if product == "" {
				product = p.ID
			}
			record.Products = append(record.Products, domain.ProductActivity{
				Product:    product,
				LastActive: parseDate(p.LastActive),
			})
		}
		return record, nil
	})
}

// Suspend removes product access from an account
func (c *Client) Suspend(ctx context.Context, accountID string) error {
	return c.postAccountAction(ctx, "Suspend", accountID, "suspend")
}

// Delete initiates account deletion. The provider keeps the account in a
// grace period before it is removed for good, so success means "started".
func (c *Client) Delete(ctx context.Context, accountID string) error {
	return c.postAccountAction(ctx, "Delete", accountID, "delete")
}

func (c *Client) postAccountAction(ctx context.Context, op, accountID, action string) error {
	directoryID, err := c.DirectoryID(ctx)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/admin/v2/orgs/%s/directories/%s/users/%s/%s",
		c.baseURL, url.PathEscape(c.orgID), url.PathEscape(directoryID), url.PathEscape(accountID), action)

	_, err = retry.Do(ctx, c.retryConfig, c.logger, op, func(ctx context.Context) (struct{}, error) {
		_, err := c.do(ctx, http.MethodPost, endpoint)
		return struct{}{}, err
	})
	return err
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	body, err := c.do(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp, body)
	}
	return body, nil
}

// toTenantUser maps membership status, which reflects product access, onto
// the account status used by the lifecycle checks.
func toTenantUser(u wireUser) domain.TenantUser {
	return domain.TenantUser{
		AccountID: u.AccountID,
		Email:     domain.Normalize(u.Email),
		Status:    parseMembershipStatus(u.MembershipStatus),
		JoinedAt:  parseDate(u.AddedToOrg),
	}
}

func parseMembershipStatus(status string) domain.AccountStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return domain.StatusActive
	case "closed":
		return domain.StatusClosed
	default:
		return domain.StatusInactive
	}
}

// parseDate accepts RFC 3339 timestamps and bare dates; anything else is nil
func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
