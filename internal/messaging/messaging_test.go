package messaging

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"studymatch/internal/apiclient"
	"studymatch/internal/session"
	"studymatch/pkg/domain"
)

func readySession(t *testing.T) *session.Session {
	t.Helper()
	store, err := session.OpenStore(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	claims := jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	sess := session.New(store, nil, nil)
	actor := domain.User{ID: "u1", Name: "Ada", Role: domain.RoleParticipant}
	if err := sess.SignIn(context.Background(), token, actor); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	return sess
}

type fakeMessageAPI struct {
	mu            sync.Mutex
	calls         []string
	sent          []apiclient.SendMessageRequest
	conversations []domain.Conversation
	threads       map[string][]domain.Message
	sendErr       error
	listConvErr   error

	blockPeer    string
	blockStarted chan struct{}
	blockRelease chan struct{}
}

func (f *fakeMessageAPI) ListConversations(context.Context, string) ([]domain.Conversation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "conversations")
	err := f.listConvErr
	conversations := f.conversations
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (f *fakeMessageAPI) ListMessages(_ context.Context, _ string, otherUserID, _ string) ([]domain.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "messages:"+otherUserID)
	blocked := otherUserID == f.blockPeer
	thread := f.threads[otherUserID]
	f.mu.Unlock()
	if blocked {
		f.blockStarted <- struct{}{}
		<-f.blockRelease
	}
	return thread, nil
}

func (f *fakeMessageAPI) SendMessage(_ context.Context, _ string, req apiclient.SendMessageRequest) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send")
	if f.sendErr != nil {
		return domain.Message{}, f.sendErr
	}
	f.sent = append(f.sent, req)
	return domain.Message{ID: "m-new", Content: req.Content}, nil
}

func (f *fakeMessageAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func peer(id string) domain.UserRef {
	return domain.UserRef{ID: id, Name: "Peer " + id}
}

func newTestManager(t *testing.T, api *fakeMessageAPI) *Manager {
	t.Helper()
	m, err := New(api, readySession(t), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestSendRequiresSelectionAndContent(t *testing.T) {
	api := &fakeMessageAPI{}
	m := newTestManager(t, api)

	m.SetCompose("hello")
	if err := m.Send(context.Background()); !errors.Is(err, ErrNoConversationSelected) {
		t.Fatalf("err = %v, want ErrNoConversationSelected", err)
	}

	if err := m.Select(context.Background(), Selection{Peer: peer("p1")}); err != nil {
		t.Fatalf("select: %v", err)
	}
	m.SetCompose("   \n\t")
	if err := m.Send(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}

	for _, call := range api.callLog() {
		if call == "send" {
			t.Fatalf("invalid send must not reach the backend")
		}
	}
}

func TestSendClearsComposeAndReloadsInOrder(t *testing.T) {
	api := &fakeMessageAPI{
		threads: map[string][]domain.Message{
			"p1": {{ID: "m1", Content: "earlier"}},
		},
		conversations: []domain.Conversation{{ID: "c1"}},
	}
	m := newTestManager(t, api)
	if err := m.Select(context.Background(), Selection{Peer: peer("p1"), StudyID: "s1"}); err != nil {
		t.Fatalf("select: %v", err)
	}
	m.SetCompose("hello there")

	if err := m.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(api.sent) != 1 {
		t.Fatalf("sent = %+v", api.sent)
	}
	req := api.sent[0]
	if req.ReceiverID != "p1" || req.Content != "hello there" || req.StudyID != "s1" {
		t.Fatalf("send payload = %+v", req)
	}
	if m.Compose() != "" {
		t.Fatalf("compose must clear after a successful send, got %q", m.Compose())
	}

	calls := api.callLog()
	if len(calls) != 4 {
		t.Fatalf("call log = %v", calls)
	}
	if calls[1] != "send" || calls[2] != "messages:p1" || calls[3] != "conversations" {
		t.Fatalf("send must reload the thread then the list, got %v", calls)
	}
	if len(m.Thread()) != 1 || len(m.Conversations()) != 1 {
		t.Fatalf("reloaded state missing: thread=%d conversations=%d", len(m.Thread()), len(m.Conversations()))
	}
}

func TestSendFailurePreservesCompose(t *testing.T) {
	api := &fakeMessageAPI{sendErr: errors.New("receiver not found")}
	m := newTestManager(t, api)
	if err := m.Select(context.Background(), Selection{Peer: peer("p1")}); err != nil {
		t.Fatalf("select: %v", err)
	}
	m.SetCompose("do not lose this")

	if err := m.Send(context.Background()); err == nil {
		t.Fatalf("expected send error")
	}
	if m.Compose() != "do not lose this" {
		t.Fatalf("failed send must keep the compose buffer, got %q", m.Compose())
	}
	calls := api.callLog()
	if calls[len(calls)-1] != "send" {
		t.Fatalf("failed send must not reload anything, got %v", calls)
	}
}

func TestReselectRefetchesThread(t *testing.T) {
	api := &fakeMessageAPI{threads: map[string][]domain.Message{"p1": {{ID: "m1"}}}}
	m := newTestManager(t, api)
	sel := Selection{Peer: peer("p1")}
	if err := m.Select(context.Background(), sel); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := m.Select(context.Background(), sel); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	fetches := 0
	for _, call := range api.callLog() {
		if call == "messages:p1" {
			fetches++
		}
	}
	if fetches != 2 {
		t.Fatalf("reselect must refetch, got %d fetches", fetches)
	}
}

func TestStaleThreadResponseDiscarded(t *testing.T) {
	api := &fakeMessageAPI{
		threads: map[string][]domain.Message{
			"p1": {{ID: "m1", Content: "from p1"}},
			"p2": {{ID: "m2", Content: "from p2"}},
		},
		blockPeer:    "p1",
		blockStarted: make(chan struct{}),
		blockRelease: make(chan struct{}),
	}
	m := newTestManager(t, api)

	done := make(chan error, 1)
	go func() {
		done <- m.Select(context.Background(), Selection{Peer: peer("p1")})
	}()
	<-api.blockStarted

	// The actor moves on while the first fetch is still in flight.
	if err := m.Select(context.Background(), Selection{Peer: peer("p2")}); err != nil {
		t.Fatalf("select p2: %v", err)
	}
	close(api.blockRelease)
	if err := <-done; err != nil {
		t.Fatalf("select p1: %v", err)
	}

	thread := m.Thread()
	if len(thread) != 1 || thread[0].Content != "from p2" {
		t.Fatalf("stale response must not overwrite the current thread: %+v", thread)
	}
	if got := m.Selected(); got == nil || got.Peer.ID != "p2" {
		t.Fatalf("selection = %+v, want p2", got)
	}
}

func TestContactStudyOwnerSendsGreeting(t *testing.T) {
	api := &fakeMessageAPI{
		threads: map[string][]domain.Message{"r1": {{ID: "m1", Content: "greeting"}}},
	}
	m := newTestManager(t, api)

	if err := m.ContactStudyOwner(context.Background(), domain.StudyRecord{ID: "s1"}); !errors.Is(err, ErrNoStudyOwner) {
		t.Fatalf("err = %v, want ErrNoStudyOwner", err)
	}
	if len(api.callLog()) != 0 {
		t.Fatalf("missing owner reference must not reach the backend, calls = %v", api.callLog())
	}

	study := domain.StudyRecord{
		ID:         "s1",
		Title:      "Sleep Study",
		Researcher: &domain.UserRef{ID: "r1", Name: "Dr. Lee"},
	}
	if err := m.ContactStudyOwner(context.Background(), study); err != nil {
		t.Fatalf("contact owner: %v", err)
	}

	if len(api.sent) != 1 {
		t.Fatalf("greeting was never sent: sent=%+v calls=%v", api.sent, api.callLog())
	}
	req := api.sent[0]
	want := `Hi Dr. Lee, I'm a participant in your study "Sleep Study".`
	if req.ReceiverID != "r1" || req.StudyID != "s1" || req.Content != want {
		t.Fatalf("greeting payload = %+v", req)
	}

	sel := m.Selected()
	if sel == nil || sel.Peer.ID != "r1" || sel.StudyID != "s1" {
		t.Fatalf("selection = %+v", sel)
	}
	calls := api.callLog()
	if len(calls) != 3 || calls[0] != "send" || calls[1] != "messages:r1" || calls[2] != "conversations" {
		t.Fatalf("owner contact must reload the thread then the list, got %v", calls)
	}
	if len(m.Thread()) != 1 {
		t.Fatalf("new thread not loaded: %+v", m.Thread())
	}
}

func TestContactStudyOwnerFailureSendsNothingMore(t *testing.T) {
	api := &fakeMessageAPI{sendErr: errors.New("receiver not found")}
	m := newTestManager(t, api)
	study := domain.StudyRecord{
		ID:         "s1",
		Title:      "Sleep Study",
		Researcher: &domain.UserRef{ID: "r1", Name: "Dr. Lee"},
	}
	if err := m.ContactStudyOwner(context.Background(), study); err == nil {
		t.Fatalf("expected send error")
	}
	calls := api.callLog()
	if len(calls) != 1 || calls[0] != "send" {
		t.Fatalf("failed contact must not reload anything, got %v", calls)
	}
}

func TestLoadConversationsKeepsPriorOnFailure(t *testing.T) {
	api := &fakeMessageAPI{conversations: []domain.Conversation{{ID: "c1"}}}
	m := newTestManager(t, api)
	if err := m.LoadConversations(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Conversations()) != 1 {
		t.Fatalf("conversations = %+v", m.Conversations())
	}

	api.mu.Lock()
	api.listConvErr = errors.New("boom")
	api.mu.Unlock()
	if err := m.LoadConversations(context.Background()); err != nil {
		t.Fatalf("list failure must be non-fatal: %v", err)
	}
	if len(m.Conversations()) != 1 {
		t.Fatalf("prior list must survive a failed refresh")
	}
}

func TestLoadConversationsSurfacesRejectedCredential(t *testing.T) {
	api := &fakeMessageAPI{
		listConvErr: &apiclient.APIError{Status: http.StatusUnauthorized, Message: "token expired"},
	}
	m := newTestManager(t, api)
	if err := m.LoadConversations(context.Background()); !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized so the caller can route to re-auth", err)
	}
}
