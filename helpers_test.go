package identity

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// fakeStore is an in-memory EntityStore with the same compare-and-swap
// contract as the Redis implementation.
type fakeStore struct {
	mu      sync.Mutex
	byID    map[string]CredentialRecord
	byEmail map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:    map[string]CredentialRecord{},
		byEmail: map[string]string{},
	}
}

func (s *fakeStore) GetByID(_ context.Context, userID string) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byID[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := record
	return &out, nil
}

func (s *fakeStore) GetByEmail(_ context.Context, email string) (*CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byEmail[email]
	if !ok {
		return nil, ErrRecordNotFound
	}
	record := s.byID[userID]
	out := record
	return &out, nil
}

func (s *fakeStore) Create(_ context.Context, record *CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[record.Email]; exists {
		return ErrDuplicateEmail
	}
	record.Version = 1
	s.byID[record.UserID] = *record
	s.byEmail[record.Email] = record.UserID
	return nil
}

func (s *fakeStore) Update(_ context.Context, record *CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[record.UserID]
	if !ok {
		return ErrRecordNotFound
	}
	if stored.Version != record.Version {
		return ErrVersionConflict
	}
	record.Version++
	s.byID[record.UserID] = *record
	return nil
}

type sentMessage struct {
	channel     Channel
	destination string
	message     Notification
}

// fakeNotifier records every delivery and can be told to fail the next
// send.
type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	failNext error
}

func (n *fakeNotifier) Send(_ context.Context, channel Channel, destination string, message Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failNext != nil {
		err := n.failNext
		n.failNext = nil
		return err
	}
	n.sent = append(n.sent, sentMessage{channel: channel, destination: destination, message: message})
	return nil
}

func (n *fakeNotifier) last(t *testing.T) sentMessage {
	t.Helper()

	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.sent) == 0 {
		t.Fatal("expected at least one delivered message")
	}
	return n.sent[len(n.sent)-1]
}

var (
	otpPattern = regexp.MustCompile(`\b[0-9]{6}\b`)
	hexPattern = regexp.MustCompile(`\b[0-9a-f]{64}\b`)
	jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
)

func (n *fakeNotifier) lastCode(t *testing.T) string {
	t.Helper()

	code := otpPattern.FindString(n.last(t).message.Body)
	if code == "" {
		t.Fatalf("no code found in message body: %q", n.last(t).message.Body)
	}
	return code
}

func (n *fakeNotifier) lastHexToken(t *testing.T) string {
	t.Helper()

	tok := hexPattern.FindString(n.last(t).message.Body)
	if tok == "" {
		t.Fatalf("no token found in message body: %q", n.last(t).message.Body)
	}
	return tok
}

func (n *fakeNotifier) lastJWT(t *testing.T) string {
	t.Helper()

	tok := jwtPattern.FindString(n.last(t).message.Body)
	if tok == "" {
		t.Fatalf("no token found in message body: %q", n.last(t).message.Body)
	}
	return tok
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Token.SessionKey = []byte("test-session-key-0123456789abcdef")
	cfg.Token.MagicLinkKey = []byte("test-magic-key-0123456789abcdef!")
	cfg.WebAuthn.RPID = "vault.example.com"
	cfg.WebAuthn.RPDisplayName = "SafePassVault"
	cfg.WebAuthn.RPOrigins = []string{"https://vault.example.com"}
	// Cheap parameters keep the suite fast; production values live in
	// defaultConfig.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEngine(t *testing.T, store EntityStore, notifier NotificationService) *Engine {
	t.Helper()
	return newTestEngineWithConfig(t, store, notifier, testConfig())
}

func newTestEngineWithConfig(t *testing.T, store EntityStore, notifier NotificationService, cfg Config) *Engine {
	t.Helper()

	engine, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

const (
	testEmail    = "alice@example.com"
	testPassword = "Sup3r-Secret!"
)

// registerConfirmedUser registers and confirms an account, returning the
// user ID and the first session token.
func registerConfirmedUser(t *testing.T, engine *Engine, notifier *fakeNotifier) (string, string) {
	t.Helper()

	result, err := engine.Register(context.Background(), RegisterRequest{
		Email:    testEmail,
		Password: testPassword,
		Name:     "Alice",
		Phone:    "+15550100",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tok, err := engine.ConfirmEmail(context.Background(), testEmail, notifier.lastCode(t))
	if err != nil {
		t.Fatalf("ConfirmEmail failed: %v", err)
	}
	return result.UserID, tok
}
