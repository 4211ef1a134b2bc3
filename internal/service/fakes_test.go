package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/security/audit"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDirectory struct {
	mu    sync.Mutex
	users []domain.DirectoryUser
	err   error
	calls int

	// when set, ListUsers signals entered and blocks until release is closed
	entered chan struct{}
	release chan struct{}
}

func (f *fakeDirectory) ListUsers(context.Context) ([]domain.DirectoryUser, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.DirectoryUser(nil), f.users...), nil
}

func (f *fakeDirectory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSourceControl struct {
	mu         sync.Mutex
	members    []string
	pending    []string
	ids        map[string]int64
	inviteErr  map[int64]error
	removeErr  map[string]error
	membersErr error

	invited []int64
	removed []string
}

func (f *fakeSourceControl) ListMembers(context.Context) ([]string, error) {
	if f.membersErr != nil {
		return nil, f.membersErr
	}
	return f.members, nil
}

func (f *fakeSourceControl) ListPendingInvitations(context.Context) ([]string, error) {
	return f.pending, nil
}

func (f *fakeSourceControl) GetUserID(_ context.Context, username string) (int64, error) {
	id, ok := f.ids[username]
	if !ok {
		return 0, errors.New("user not found")
	}
	return id, nil
}

func (f *fakeSourceControl) Invite(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.inviteErr[userID]; err != nil {
		return err
	}
	f.invited = append(f.invited, userID)
	return nil
}

func (f *fakeSourceControl) RemoveMember(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[username]; err != nil {
		return err
	}
	f.removed = append(f.removed, username)
	return nil
}

type fakeTenant struct {
	mu         sync.Mutex
	users      []domain.TenantUser
	activity   map[string]*domain.ActivityRecord
	lookupErr  map[string]error
	suspendErr map[string]error
	listCalls  int
	lookups    []string
	suspended  []string
	deleted    []string
}

func (f *fakeTenant) ListTenantUsers(context.Context) ([]domain.TenantUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]domain.TenantUser(nil), f.users...), nil
}

func (f *fakeTenant) GetLastActive(_ context.Context, accountID string) (*domain.ActivityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, accountID)
	if err := f.lookupErr[accountID]; err != nil {
		return nil, err
	}
	if rec, ok := f.activity[accountID]; ok {
		return rec, nil
	}
	return &domain.ActivityRecord{AccountID: accountID}, nil
}

func (f *fakeTenant) Suspend(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.suspendErr[accountID]; err != nil {
		return err
	}
	f.suspended = append(f.suspended, accountID)
	return nil
}

func (f *fakeTenant) Delete(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, accountID)
	return nil
}

func (f *fakeTenant) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

type countingPacer struct {
	waits  int
	err    error
	onWait func(n int) error
}

func (p *countingPacer) Wait(context.Context) error {
	p.waits++
	if p.onWait != nil {
		return p.onWait(p.waits)
	}
	return p.err
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := testNow.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

func activityAt(accountID string, last *time.Time) *domain.ActivityRecord {
	return &domain.ActivityRecord{
		AccountID: accountID,
		Products:  []domain.ProductActivity{{Product: "jira-software", LastActive: last}},
	}
}

type harness struct {
	reconciler *Reconciler
	directory  *fakeDirectory
	scm        *fakeSourceControl
	tenant     *fakeTenant
	pacer      *countingPacer
	clock      *clocktesting.FakeClock
}

func newHarness(opts Options) *harness {
	h := &harness{
		directory: &fakeDirectory{},
		scm:       &fakeSourceControl{ids: map[string]int64{}},
		tenant:    &fakeTenant{activity: map[string]*domain.ActivityRecord{}},
		pacer:     &countingPacer{},
		clock:     clocktesting.NewFakeClock(testNow),
	}
	opts.Pacer = h.pacer
	opts.Clock = h.clock
	logger := discardLogger()
	h.reconciler = NewReconciler(Dependencies{
		Directory:     h.directory,
		SourceControl: h.scm,
		Tenant:        h.tenant,
		Audit:         audit.NewLogger(logger),
		Logger:        logger,
	}, opts)
	return h
}
