package atlassian

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/reliability/retry"
)

const (
	testOrg = "org-1"
	testDir = "dir-1"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newTestClient(t *testing.T, handler http.Handler, maxPages int) (*Client, *sleepRecorder) {
	t.Helper()
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	rec := &sleepRecorder{}
	rc := retry.DefaultConfig()
	rc.Sleep = rec.sleep

	client, err := NewClient(Config{
		BaseURL:    server.URL,
		APIKey:     "key",
		OrgID:      testOrg,
		HTTPClient: server.Client(),
		Retry:      rc,
		MaxPages:   maxPages,
	})
	require.NoError(t, err)
	return client, rec
}

func directoriesHandler(calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		fmt.Fprintf(w, `{"data":[{"directoryId":%q,"name":"main"}]}`, testDir)
	}
}

const usersPath = "/admin/v2/orgs/org-1/directories/dir-1/users"

func TestListTenantUsersFollowsCursor(t *testing.T) {
	var dirCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", directoriesHandler(&dirCalls))
	mux.HandleFunc("GET "+usersPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"data":[
				{"accountId":"a1","email":"Alice@Example.com","membershipStatus":"active","accountStatus":"active","addedToOrg":"2023-01-02T03:04:05Z"},
				{"accountId":"a2","email":"bob@example.com","membershipStatus":"suspended","accountStatus":"active"}
			],"links":{"next":"c2"}}`)
		case "c2":
			fmt.Fprint(w, `{"data":[{"accountId":"a3","email":"carol@example.com","membershipStatus":"closed","addedToOrg":"2024-02-03"}],"links":{}}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	})

	client, _ := newTestClient(t, mux, 0)
	users, err := client.ListTenantUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)

	assert.Equal(t, "alice@example.com", users[0].Email)
	assert.Equal(t, domain.StatusActive, users[0].Status)
	require.NotNil(t, users[0].JoinedAt)
	assert.Equal(t, 2023, users[0].JoinedAt.Year())
	assert.Equal(t, domain.StatusInactive, users[1].Status, "membership status drives the account status")
	assert.Nil(t, users[1].JoinedAt)
	assert.Equal(t, domain.StatusClosed, users[2].Status)

	_, err = client.ListTenantUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), dirCalls.Load(), "directory id is resolved once")
}

func TestListTenantUsersRateLimitedReturnsPartial(t *testing.T) {
	var pageCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", directoriesHandler(nil))
	mux.HandleFunc("GET "+usersPath, func(w http.ResponseWriter, r *http.Request) {
		pageCalls.Add(1)
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprint(w, `{"data":[{"accountId":"a1","email":"a@example.com","membershipStatus":"active"}],"links":{"next":"c2"}}`)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client, rec := newTestClient(t, mux, 0)
	users, err := client.ListTenantUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, int32(2), pageCalls.Load(), "a rate-limited listing is not retried")
	assert.Empty(t, rec.waits)
}

func TestListTenantUsersCycleGuard(t *testing.T) {
	var pageCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", directoriesHandler(nil))
	mux.HandleFunc("GET "+usersPath, func(w http.ResponseWriter, r *http.Request) {
		n := pageCalls.Add(1)
		fmt.Fprintf(w, `{"data":[{"accountId":"a%d","email":"u%d@example.com","membershipStatus":"active"}],"links":{"next":"same"}}`, n, n)
	})

	client, _ := newTestClient(t, mux, 0)
	users, err := client.ListTenantUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, int32(2), pageCalls.Load())
}

func TestListTenantUsersPageCeiling(t *testing.T) {
	var pageCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", directoriesHandler(nil))
	mux.HandleFunc("GET "+usersPath, func(w http.ResponseWriter, r *http.Request) {
		n := pageCalls.Add(1)
		fmt.Fprintf(w, `{"data":[{"accountId":"a%d","email":"u%d@example.com","membershipStatus":"active"}],"links":{"next":"c%d"}}`, n, n, n)
	})

	client, _ := newTestClient(t, mux, 3)
	users, err := client.ListTenantUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 3)
	assert.Equal(t, int32(3), pageCalls.Load())
}

func TestListTenantUsersServerErrorIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", directoriesHandler(nil))
	mux.HandleFunc("GET "+usersPath, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client, _ := newTestClient(t, mux, 0)
	_, err := client.ListTenantUsers(context.Background())
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestDirectoryResolutionFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})

	client, _ := newTestClient(t, mux, 0)
	_, err := client.ListTenantUsers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no directory")
}

func TestDirectoryIDUnknownOrg(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "org not found", http.StatusNotFound)
	})
	client, _ := newTestClient(t, mux, 10)

	_, err := client.DirectoryID(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "organization org-1 not found")
}

func TestGetLastActiveRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/orgs/org-1/directory/users/a1/last-active-dates", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"data":{"product_access":[
			{"id":"p1","key":"jira-software","last_active":"2024-03-01"},
			{"id":"p2","key":"confluence","last_active":"not-a-date"},
			{"id":"p3","key":"","last_active":"2024-05-20T10:00:00Z"}
		]}}`)
	})

	client, rec := newTestClient(t, mux, 0)
	record, err := client.GetLastActive(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.waits)

	require.Len(t, record.Products, 3)
	assert.Nil(t, record.Products[1].LastActive)
	assert.Equal(t, "p3", record.Products[2].Product)
	latest := record.MostRecent()
	require.NotNil(t, latest)
	assert.Equal(t, time.May, latest.Month())
}

func TestGetLastActiveNoActivity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/orgs/org-1/directory/users/new/last-active-dates", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"product_access":[]}}`)
	})

	client, _ := newTestClient(t, mux, 0)
	record, err := client.GetLastActive(context.Background(), "new")
	require.NoError(t, err)
	assert.Empty(t, record.Products)
	assert.Nil(t, record.MostRecent())
}

func TestSuspendNonRetryableFailsOnce(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", directoriesHandler(nil))
	mux.HandleFunc("POST "+usersPath+"/a1/suspend", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
	})

	client, rec := newTestClient(t, mux, 0)
	err := client.Suspend(context.Background(), "a1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.waits)
}

func TestDeleteExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", directoriesHandler(nil))
	mux.HandleFunc("POST "+usersPath+"/a1/delete", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client, rec := newTestClient(t, mux, 0)
	err := client.Delete(context.Background(), "a1")
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, int32(4), calls.Load())
	assert.Len(t, rec.waits, 3)
}

func TestSuspendSucceeds(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v2/orgs/org-1/directories", directoriesHandler(nil))
	mux.HandleFunc("POST "+usersPath+"/a1/suspend", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	client, _ := newTestClient(t, mux, 0)
	assert.NoError(t, client.Suspend(context.Background(), "a1"))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"request timeout", &APIError{StatusCode: 408}, true},
		{"gateway timeout", &APIError{StatusCode: 504}, true},
		{"server error", &APIError{StatusCode: 500}, false},
		{"not found", fmt.Errorf("wrapped: %w", &APIError{StatusCode: 404}), false},
		{"net timeout", fmt.Errorf("get: %w", timeoutError{}), true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"deadline", os.ErrDeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"other", errors.New("bad request body"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{OrgID: "o"})
	assert.Error(t, err)
}
