package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"collab-messenger/database"
	"collab-messenger/model"
	"collab-messenger/store"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type emitted struct {
	event   string
	payload any
}

type recordingTransport struct {
	mu     sync.Mutex
	events []emitted
	closed bool
}

func (r *recordingTransport) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event: event, payload: payload})
	return nil
}

func (r *recordingTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingTransport) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recordingTransport) named(event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (r *recordingTransport) count(event string) int {
	return len(r.named(event))
}

type tokenAuth map[string]uint

func (a tokenAuth) Authenticate(_ context.Context, credential string) (uint, error) {
	id, ok := a[credential]
	if !ok {
		return 0, fmt.Errorf("unknown token: %w", model.ErrAuthentication)
	}
	return id, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	actions []string
}

func (p *recordingPublisher) Publish(_ context.Context, action string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, action)
	return nil
}

type fixture struct {
	store   *store.Store
	gateway *Gateway
	auth    tokenAuth
	users   []uint
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	s := store.New(db)
	auth := tokenAuth{}
	var users []uint
	for _, name := range []string{"alice", "bob", "carol"} {
		u := model.User{Username: name, Email: name + "@example.com", Password: "x"}
		require.NoError(t, db.Create(&u).Error)
		users = append(users, u.ID)
		auth["token-"+name] = u.ID
	}

	log := zerolog.Nop()
	presence := NewPresence()
	gw := NewGateway(s, auth, presence, NewRouter(), NewFanout(s, presence, log), opts, log)
	return &fixture{store: s, gateway: gw, auth: auth, users: users}
}

func (f *fixture) connect(t *testing.T, token string) (*Connection, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	c, err := f.gateway.Connect(context.Background(), token, tr)
	require.NoError(t, err)
	t.Cleanup(func() { f.gateway.Disconnect(c) })
	return c, tr
}

func (f *fixture) direct(t *testing.T, a, b uint) uint {
	t.Helper()
	conv, err := f.store.DirectConversation(context.Background(), a, b)
	require.NoError(t, err)
	return conv.ID
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

// settle gives writer goroutines time to flush anything still queued.
func settle() {
	time.Sleep(30 * time.Millisecond)
}

func rawData(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
