package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendlater/sendlater/internal/database"
	"github.com/sendlater/sendlater/internal/token"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	claimed  []database.ScheduledMessage
	claimErr error
	statuses map[string]database.MessageStatus
	setErr   error

	claimCalls int
	release    chan struct{} // when set, ClaimDueMessages blocks until closed
}

func (f *fakeMessageStore) ClaimDueMessages(_ context.Context, _ time.Time) ([]database.ScheduledMessage, error) {
	f.mu.Lock()
	f.claimCalls++
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	return f.claimed, f.claimErr
}

func (f *fakeMessageStore) SetMessageStatus(_ context.Context, id string, status database.MessageStatus) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[string]database.MessageStatus{}
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeMessageStore) status(id string) database.MessageStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakeResolver struct {
	token string
	err   error
	calls int
}

func (f *fakeResolver) ResolveToken(_ context.Context, _ database.TenantKey, _ bool) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakePoster struct {
	mu    sync.Mutex
	posts []string // channel IDs in dispatch order
	errBy map[string]error
}

func (f *fakePoster) PostMessage(_ context.Context, _, channelID, _ string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, channelID)
	if f.errBy != nil {
		return f.errBy[channelID]
	}
	return nil
}

func claimedMessage(id, channel string) database.ScheduledMessage {
	return database.ScheduledMessage{
		ID:          id,
		WorkspaceID: "W1",
		UserID:      "U1",
		ChannelID:   channel,
		Text:        "hello",
		SendAt:      time.Now().Add(-time.Minute),
		Status:      database.StatusProcessing,
	}
}

func newTestDispatcher(store MessageStore, tokens TokenResolver, gateway Poster) *Dispatcher {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(store, tokens, gateway, nil, log)
}

func TestRunCycleDeliversSequentially(t *testing.T) {
	t.Parallel()

	store := &fakeMessageStore{claimed: []database.ScheduledMessage{
		claimedMessage("m1", "C1"),
		claimedMessage("m2", "C2"),
		claimedMessage("m3", "C3"),
	}}
	poster := &fakePoster{}
	d := newTestDispatcher(store, &fakeResolver{token: "xoxb-t"}, poster)

	n, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"C1", "C2", "C3"}, poster.posts, "messages dispatched in claim order")
	for _, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, database.StatusSent, store.status(id))
	}
}

func TestRunCycleEmptyQueue(t *testing.T) {
	t.Parallel()

	store := &fakeMessageStore{}
	poster := &fakePoster{}
	d := newTestDispatcher(store, &fakeResolver{token: "xoxb-t"}, poster)

	n, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, poster.posts)
}

func TestRunCycleClaimErrorAborts(t *testing.T) {
	t.Parallel()

	store := &fakeMessageStore{claimErr: errors.New("db locked")}
	d := newTestDispatcher(store, &fakeResolver{token: "xoxb-t"}, &fakePoster{})

	_, err := d.RunCycle(context.Background())
	assert.Error(t, err)
}

func TestRunCyclePerMessageFailureIsolated(t *testing.T) {
	t.Parallel()

	store := &fakeMessageStore{claimed: []database.ScheduledMessage{
		claimedMessage("m1", "C1"),
		claimedMessage("m2", "C2"),
		claimedMessage("m3", "C3"),
	}}
	poster := &fakePoster{errBy: map[string]error{"C2": errors.New("channel_not_found")}}
	d := newTestDispatcher(store, &fakeResolver{token: "xoxb-t"}, poster)

	n, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"C1", "C2", "C3"}, poster.posts, "failure does not stop the batch")
	assert.Equal(t, database.StatusSent, store.status("m1"))
	assert.Equal(t, database.StatusFailed, store.status("m2"))
	assert.Equal(t, database.StatusSent, store.status("m3"))
}

func TestRunCycleNoCredentialSkipsGateway(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
	}{
		{"no installation", token.ErrNoInstallation},
		{"no token bundle", token.ErrNoToken},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := &fakeMessageStore{claimed: []database.ScheduledMessage{claimedMessage("m1", "C1")}}
			poster := &fakePoster{}
			d := newTestDispatcher(store, &fakeResolver{err: tc.err}, poster)

			_, err := d.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Empty(t, poster.posts, "gateway is never called without a credential")
			assert.Equal(t, database.StatusFailed, store.status("m1"))
		})
	}
}

func TestRunCycleSkipsWhenBusy(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	store := &fakeMessageStore{release: release}
	d := newTestDispatcher(store, &fakeResolver{token: "xoxb-t"}, &fakePoster{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.RunCycle(context.Background())
	}()

	// Wait for the first cycle to be inside the claim call.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.claimCalls == 1
	}, time.Second, time.Millisecond)

	n, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "overlapping cycle is skipped")

	close(release)
	<-done

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.claimCalls, "the skipped cycle never touched the store")
}

func TestRunCycleStatusWriteFailureLogged(t *testing.T) {
	t.Parallel()

	store := &fakeMessageStore{
		claimed: []database.ScheduledMessage{claimedMessage("m1", "C1"), claimedMessage("m2", "C2")},
		setErr:  errors.New("disk full"),
	}
	poster := &fakePoster{}
	d := newTestDispatcher(store, &fakeResolver{token: "xoxb-t"}, poster)

	n, err := d.RunCycle(context.Background())
	require.NoError(t, err, "a status write failure does not abort the cycle")
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"C1", "C2"}, poster.posts)
}
