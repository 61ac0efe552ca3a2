package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"authservice/internal/crypto"
	"authservice/internal/metrics"
	"authservice/internal/models"
	"authservice/internal/repository"
	"authservice/internal/token"
)

type fakeUserRepo struct {
	mu        sync.Mutex
	nextID    int64
	byID      map[int64]*models.User
	createErr error
	getErr    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[int64]*models.User{}}
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, u := range r.byID {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	r.nextID++
	user.ID = r.nextID
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	for _, u := range r.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false, nil
	}
	delete(r.byID, id)
	return true, nil
}

type revocation struct {
	userID    int64
	expiresAt time.Time
}

type fakeRevocationStore struct {
	mu        sync.Mutex
	entries   map[string]revocation
	recordErr error
	lookupErr error

	purgeCalls   int
	purgeErrs    []error
	purgeStarted chan struct{}
	purgeGate    chan struct{}
}

func newFakeRevocationStore() *fakeRevocationStore {
	return &fakeRevocationStore{entries: map[string]revocation{}}
}

func (s *fakeRevocationStore) Record(_ context.Context, tok string, userID int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	if _, ok := s.entries[tok]; !ok {
		s.entries[tok] = revocation{userID: userID, expiresAt: expiresAt}
	}
	return nil
}

func (s *fakeRevocationStore) IsRevoked(_ context.Context, tok string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	_, ok := s.entries[tok]
	return ok, nil
}

func (s *fakeRevocationStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	if s.purgeGate != nil {
		s.purgeStarted <- struct{}{}
		<-s.purgeGate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeCalls++
	if len(s.purgeErrs) > 0 {
		err := s.purgeErrs[0]
		s.purgeErrs = s.purgeErrs[1:]
		if err != nil {
			return 0, err
		}
	}

	var removed int64
	for tok, e := range s.entries {
		if e.expiresAt.Before(now) {
			delete(s.entries, tok)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeRevocationStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type authFixture struct {
	svc         *AuthService
	users       *fakeUserRepo
	revocations *fakeRevocationStore
	codec       *token.Codec
	hasher      *crypto.PasswordHasher
	metrics     *metrics.Metrics
	clock       *clock
}

// cheapArgon2 keeps hashing fast in tests.
var cheapArgon2 = crypto.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	clk := &clock{t: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec("0123456789abcdef0123456789abcdef", time.Hour, token.WithClock(clk.Now))
	require.NoError(t, err)

	f := &authFixture{
		users:       newFakeUserRepo(),
		revocations: newFakeRevocationStore(),
		codec:       codec,
		hasher:      crypto.NewPasswordHasher(cheapArgon2),
		metrics:     metrics.NewMetrics(prometheus.NewRegistry()),
		clock:       clk,
	}
	f.svc, err = NewAuthService(f.users, f.revocations, f.codec, f.hasher, f.metrics, zap.NewNop())
	require.NoError(t, err)
	return f
}

// seedUser stores a user whose password is "Password1".
func (f *authFixture) seedUser(t *testing.T, email string, role models.Role, banned bool) *models.User {
	t.Helper()
	hash, err := f.hasher.Hash("Password1")
	require.NoError(t, err)

	u := &models.User{Username: "u", Email: email, PasswordHash: hash, Role: role, Banned: banned}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}
