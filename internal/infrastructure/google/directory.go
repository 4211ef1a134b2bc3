package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
)

// Config holds configuration for creating a DirectoryClient
type Config struct {
	// CredentialsFile is a service-account key with domain-wide delegation
	CredentialsFile string
	// AdminEmail is the directory administrator the service account impersonates
	AdminEmail string
	CustomerID string

	// SchemaName and FieldName locate the linked source-control username
	SchemaName string
	FieldName  string

	Logger *slog.Logger
}

// DirectoryClient lists users from the corporate directory
type DirectoryClient struct {
	svc        *admin.Service
	customerID string
	schema     string
	field      string
	logger     *slog.Logger
}

// NewDirectoryClient authenticates with the service-account key, impersonating
// the configured administrator. Extra options are appended after the credentials.
func NewDirectoryClient(ctx context.Context, cfg Config, opts ...option.ClientOption) (*DirectoryClient, error) {
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		key, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading google credentials: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(key, admin.AdminDirectoryUserReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("parsing google credentials: %w", err)
		}
		jwtConfig.Subject = cfg.AdminEmail
		clientOpts = append(clientOpts, option.WithHTTPClient(jwtConfig.Client(ctx)))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := admin.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating directory service: %w", err)
	}
	return newDirectoryClient(svc, cfg), nil
}

func newDirectoryClient(svc *admin.Service, cfg Config) *DirectoryClient {
	customerID := cfg.CustomerID
	if customerID == "" {
		customerID = "my_customer"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryClient{
		svc:        svc,
		customerID: customerID,
		schema:     cfg.SchemaName,
		field:      cfg.FieldName,
		logger:     logger.With(slog.String("component", "google_directory")),
	}
}

// ListUsers returns every non-suspended directory user with the linked
// username custom field, when present.
func (c *DirectoryClient) ListUsers(ctx context.Context) ([]domain.DirectoryUser, error) {
	call := c.svc.Users.List().
		Customer(c.customerID).
		MaxResults(500).
		OrderBy("email")
	if c.schema != "" {
		call = call.Projection("custom").CustomFieldMask(c.schema)
	}

	var users []domain.DirectoryUser
	skipped := 0
	err := call.Pages(ctx, func(page *admin.Users) error {
		for _, u := range page.Users {
			if u.Suspended || u.Archived {
				skipped++
				continue
			}
			email := domain.Normalize(u.PrimaryEmail)
			if email == "" {
				continue
			}
			users = append(users, domain.DirectoryUser{
				Email:          email,
				GitHubUsername: c.linkedUsername(u),
				JoinedAt:       parseCreationTime(u.CreationTime),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing directory users: %w", err)
	}

	c.logger.Debug("listed directory users",
		slog.Int("users", len(users)),
		slog.Int("skipped_suspended", skipped),
	)
	return users, nil
}

func (c *DirectoryClient) linkedUsername(u *admin.User) string {
	if c.schema == "" || c.field == "" || u.CustomSchemas == nil {
		return ""
	}
	raw, ok := u.CustomSchemas[c.schema]
	if !ok {
		return ""
	}
	return extractField(raw, c.field)
}

// extractField reads a custom schema field that is either a plain value or a
// multi-valued list of {"value": ...} objects, in which case the first wins.
func extractField(raw googleapi.RawMessage, field string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	value, ok := fields[field]
	if !ok {
		return ""
	}

	var single string
	if err := json.Unmarshal(value, &single); err == nil {
		return strings.TrimSpace(single)
	}

	var multi []struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(value, &multi); err == nil {
		for _, v := range multi {
			if s := strings.TrimSpace(v.Value); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseCreationTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
