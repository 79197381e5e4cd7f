package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Anieshwar-Saravanan/TeenConnect/internal/auth"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/data"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/email"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/engine"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/hub"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/normalize"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/protocol"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/ratelimit"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []protocol.Event
	closed bool
	reason string
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(evt protocol.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeConn) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
	return nil
}

func (f *fakeConn) named(name string) []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Event
	for _, e := range f.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeConn) one(t *testing.T, name string) protocol.Event {
	t.Helper()
	got := f.named(name)
	if len(got) != 1 {
		t.Fatalf("expected exactly one %s event, got %d (all: %+v)", name, len(got), f.events)
	}
	return got[0]
}

type stubUsers struct {
	byID    map[bson.ObjectID]*data.User
	byEmail map[string]*data.User
}

func newStubUsers() *stubUsers {
	return &stubUsers{
		byID:    make(map[bson.ObjectID]*data.User),
		byEmail: make(map[string]*data.User),
	}
}

func (s *stubUsers) add(name, emailAddr, hashedPassword, role string, forbidden bool) *data.User {
	u := &data.User{
		ID:        bson.NewObjectID(),
		Name:      name,
		Email:     normalize.Email(emailAddr),
		Password:  hashedPassword,
		Role:      role,
		Forbidden: forbidden,
	}
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u
	return u
}

func (s *stubUsers) Create(_ context.Context, name, emailAddr, hashedPassword, role string) (*data.User, error) {
	if _, ok := s.byEmail[normalize.Email(emailAddr)]; ok {
		return nil, data.ErrDuplicate
	}
	return s.add(name, emailAddr, hashedPassword, role, false), nil
}

func (s *stubUsers) GetByEmail(_ context.Context, emailAddr string) (*data.User, error) {
	u, ok := s.byEmail[normalize.Email(emailAddr)]
	if !ok {
		return nil, data.ErrNotFound
	}
	return u, nil
}

func (s *stubUsers) GetByID(_ context.Context, id bson.ObjectID) (*data.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return u, nil
}

func (s *stubUsers) ListMentors(_ context.Context) ([]*data.User, error) {
	var out []*data.User
	for _, u := range s.byID {
		if u.Role == protocol.RoleMentor && !u.Forbidden {
			out = append(out, u)
		}
	}
	return out, nil
}

type stubIssues struct {
	byID map[bson.ObjectID]*data.Issue
}

func (s *stubIssues) GetByID(_ context.Context, id bson.ObjectID) (*data.Issue, error) {
	issue, ok := s.byID[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return issue, nil
}

func (s *stubIssues) ListAll(_ context.Context) ([]*data.Issue, error) {
	var out []*data.Issue
	for _, issue := range s.byID {
		out = append(out, issue)
	}
	return out, nil
}

type stubMsgs struct {
	byIssue map[bson.ObjectID][]*data.Message
}

func (s *stubMsgs) ListByIssue(_ context.Context, issueID bson.ObjectID) ([]*data.Message, error) {
	return s.byIssue[issueID], nil
}

type stubBlocks struct{}

func (stubBlocks) ListBlocked(_ context.Context, _ bson.ObjectID) ([]bson.ObjectID, error) {
	return nil, nil
}

// sendCall records one SendMessage invocation as seen by the engine.
type sendCall struct {
	issueID, senderID, senderRole, text string
}

type stubLifecycle struct {
	err        error
	sends      []sendCall
	blocks     [][2]string
	unblocks   [][2]string
	created    []string
	assigned   [][2]string
	chatDels   [][2]string
	messageDel []string
}

func (s *stubLifecycle) IssueView(_ context.Context, issue *data.Issue) *protocol.IssueView {
	return &protocol.IssueView{ID: issue.ID.Hex(), Title: issue.Title}
}

func (s *stubLifecycle) CreateIssue(_ context.Context, title, _, createdBy string) (*protocol.IssueView, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.created = append(s.created, createdBy)
	return &protocol.IssueView{ID: bson.NewObjectID().Hex(), Title: title, CreatedBy: createdBy}, nil
}

func (s *stubLifecycle) AssignIssue(_ context.Context, issueID, mentorID string) (*protocol.IssueView, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.assigned = append(s.assigned, [2]string{issueID, mentorID})
	return &protocol.IssueView{ID: issueID, AssignedMentor: &protocol.MentorRef{ID: mentorID}}, nil
}

func (s *stubLifecycle) SendMessage(_ context.Context, issueID, senderID, senderRole, text string) (*protocol.MessageView, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sends = append(s.sends, sendCall{issueID, senderID, senderRole, text})
	return &protocol.MessageView{ID: bson.NewObjectID().Hex(), IssueID: issueID, SenderID: senderID, Text: text}, nil
}

func (s *stubLifecycle) BlockMentor(_ context.Context, teenID, mentorID string) error {
	if s.err != nil {
		return s.err
	}
	s.blocks = append(s.blocks, [2]string{teenID, mentorID})
	return nil
}

func (s *stubLifecycle) UnblockMentor(_ context.Context, teenID, mentorID string) error {
	if s.err != nil {
		return s.err
	}
	s.unblocks = append(s.unblocks, [2]string{teenID, mentorID})
	return nil
}

func (s *stubLifecycle) DeleteChat(_ context.Context, issueID, actorID, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.chatDels = append(s.chatDels, [2]string{issueID, actorID})
	return nil
}

func (s *stubLifecycle) DeleteMessage(_ context.Context, messageID, _, _, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.messageDel = append(s.messageDel, messageID)
	return nil
}

type testEnv struct {
	srv    *Server
	users  *stubUsers
	issues *stubIssues
	msgs   *stubMsgs
	core   *stubLifecycle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:  newStubUsers(),
		issues: &stubIssues{byID: make(map[bson.ObjectID]*data.Issue)},
		msgs:   &stubMsgs{byIssue: make(map[bson.ObjectID][]*data.Message)},
		core:   &stubLifecycle{},
	}
	env.srv = &Server{
		log:         zap.NewNop(),
		hub:         hub.New(zap.NewNop()),
		engine:      env.core,
		users:       env.users,
		issues:      env.issues,
		msgs:        env.msgs,
		trust:       stubBlocks{},
		jwt:         auth.NewJWTManager("test-secret", time.Hour),
		otp:         auth.NewOTPStore(5 * time.Minute),
		mail:        email.NewService(email.Config{}),
		authLimiter: ratelimit.NewLimiterStore(600, 600, time.Minute),
		msgLimiter:  ratelimit.NewLimiterStore(600, 600, time.Minute),
	}
	env.srv.registerHandlers()
	t.Cleanup(env.srv.authLimiter.Stop)
	t.Cleanup(env.srv.msgLimiter.Stop)
	return env
}

func (e *testEnv) connect(id string) *fakeConn {
	c := &fakeConn{id: id}
	e.srv.hub.Track(id, c)
	return c
}

func (e *testEnv) bind(c *fakeConn, userID, role string) {
	e.srv.hub.Bind(c.id, hub.Identity{UserID: userID, Role: role})
}

func (e *testEnv) send(t *testing.T, c *fakeConn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("payload marshal failed: %v", err)
	}
	e.srv.dispatch(context.Background(), c, protocol.Inbound{Event: event, Data: raw})
}

func errCode(t *testing.T, evt protocol.Event) string {
	t.Helper()
	ed, ok := evt.Data.(protocol.ErrorData)
	if !ok {
		t.Fatalf("expected ErrorData payload, got %T", evt.Data)
	}
	return ed.Code
}

func TestDispatch_UnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect("c1")

	env.send(t, c, "teleport", map[string]string{})

	evt := c.one(t, protocol.EvError)
	if errCode(t, evt) != engine.CodeValidationFailed {
		t.Fatalf("unexpected code for unknown event: %+v", evt.Data)
	}
}

func TestDispatch_RequiresAuthentication(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect("c1")

	env.send(t, c, protocol.EvSendMessage, protocol.SendMessagePayload{
		IssueID: bson.NewObjectID().Hex(), SenderID: "x", SenderRole: "teen", Text: "hi",
	})

	evt := c.one(t, protocol.EvError)
	if errCode(t, evt) != engine.CodeAuthenticationFailed {
		t.Fatalf("expected an authenticate-first rejection, got %+v", evt.Data)
	}
	if len(env.core.sends) != 0 {
		t.Fatal("unauthenticated event reached the engine")
	}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	teen := env.users.add("Teen", "teen@example.com", "pw", "teen", false)
	c := env.connect("c1")

	env.send(t, c, protocol.EvAuthenticate, protocol.AuthenticatePayload{
		UserID: teen.ID.Hex(), Role: "teen",
	})

	evt := c.one(t, protocol.EvAuthenticated)
	view, ok := evt.Data.(protocol.UserView)
	if !ok || view.ID != teen.ID.Hex() {
		t.Fatalf("unexpected authenticated payload: %+v", evt.Data)
	}

	ident, bound := env.srv.hub.Identity("c1")
	if !bound || ident.UserID != teen.ID.Hex() || ident.Role != "teen" {
		t.Fatalf("identity not bound: %+v, %v", ident, bound)
	}
}

func TestAuthenticate_WithToken(t *testing.T) {
	env := newTestEnv(t)
	mentor := env.users.add("Mentor", "mentor@example.com", "pw", "mentor", false)
	token, _, err := env.srv.jwt.GenerateToken(mentor.ID, "mentor")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	c := env.connect("c1")

	env.send(t, c, protocol.EvAuthenticate, protocol.AuthenticatePayload{Token: token})

	c.one(t, protocol.EvAuthenticated)
	ident, bound := env.srv.hub.Identity("c1")
	if !bound || ident.UserID != mentor.ID.Hex() || ident.Role != "mentor" {
		t.Fatalf("token identity not bound: %+v, %v", ident, bound)
	}
}

func TestAuthenticate_BadToken(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect("c1")

	env.send(t, c, protocol.EvAuthenticate, protocol.AuthenticatePayload{Token: "not-a-jwt"})

	evt := c.one(t, protocol.EvError)
	if errCode(t, evt) != engine.CodeAuthenticationFailed {
		t.Fatalf("expected authentication_failed, got %+v", evt.Data)
	}
}

func TestAuthenticate_ForbiddenMentorRejectedAtBind(t *testing.T) {
	env := newTestEnv(t)
	banned := env.users.add("Banned", "banned@example.com", "pw", "mentor", true)
	c := env.connect("c1")

	env.send(t, c, protocol.EvAuthenticate, protocol.AuthenticatePayload{
		UserID: banned.ID.Hex(), Role: "mentor",
	})

	evt := c.one(t, protocol.EvForbidden)
	if errCode(t, evt) != engine.CodeForbidden {
		t.Fatalf("expected forbidden payload, got %+v", evt.Data)
	}
	if !c.closed {
		t.Fatal("forbidden mentor's connection must be terminated")
	}
	if _, bound := env.srv.hub.Identity("c1"); bound {
		t.Fatal("forbidden mentor must never get a bound session")
	}
}

func TestAuthenticate_RoleMismatch(t *testing.T) {
	env := newTestEnv(t)
	teen := env.users.add("Teen", "teen@example.com", "pw", "teen", false)
	c := env.connect("c1")

	env.send(t, c, protocol.EvAuthenticate, protocol.AuthenticatePayload{
		UserID: teen.ID.Hex(), Role: "mentor",
	})

	evt := c.one(t, protocol.EvError)
	if errCode(t, evt) != engine.CodeAuthenticationFailed {
		t.Fatalf("expected authentication_failed, got %+v", evt.Data)
	}
}

func TestSignupLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect("c1")

	env.send(t, c, protocol.EvSignup, protocol.SignupPayload{
		Name: "New Teen", Email: "new@example.com", Password: "secret123", Role: "teen",
	})
	success := c.one(t, protocol.EvSignupSuccess)
	body, ok := success.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected signup_success payload: %+v", success.Data)
	}
	if token, _ := body["token"].(string); token == "" {
		t.Fatalf("signup_success missing token: %+v", body)
	}

	// duplicate email
	env.send(t, c, protocol.EvSignup, protocol.SignupPayload{
		Name: "Copycat", Email: "new@example.com", Password: "other", Role: "teen",
	})
	c.one(t, protocol.EvSignupError)

	// wrong password
	env.send(t, c, protocol.EvLogin, protocol.LoginPayload{
		Email: "new@example.com", Password: "wrong", Role: "teen",
	})
	c.one(t, protocol.EvLoginError)

	// correct credentials
	env.send(t, c, protocol.EvLogin, protocol.LoginPayload{
		Email: "new@example.com", Password: "secret123", Role: "teen",
	})
	c.one(t, protocol.EvLoginSuccess)
}

func TestOTPLoginCreatesAccount(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect("c1")

	env.send(t, c, protocol.EvSendOTP, protocol.SendOTPPayload{
		Email: "fresh@example.com", Role: "teen",
	})
	c.one(t, protocol.EvOTPSent)

	// re-issue to learn the active code; the slot is overwritten in place
	code, err := env.srv.otp.Issue("fresh@example.com", "teen")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	env.send(t, c, protocol.EvVerifyOTP, protocol.VerifyOTPPayload{
		Email: "fresh@example.com", OTP: code, Role: "teen",
	})
	c.one(t, protocol.EvOTPLoginSuccess)

	if _, err := env.users.GetByEmail(context.Background(), "fresh@example.com"); err != nil {
		t.Fatal("first otp login must create the account")
	}
}

func TestJoinIssueRepliesWithHistory(t *testing.T) {
	env := newTestEnv(t)
	teen := env.users.add("Teen", "teen@example.com", "pw", "teen", false)
	issue := &data.Issue{ID: bson.NewObjectID(), Title: "t", CreatedBy: teen.ID}
	env.issues.byID[issue.ID] = issue
	env.msgs.byIssue[issue.ID] = []*data.Message{
		{ID: bson.NewObjectID(), IssueID: issue.ID, SenderID: teen.ID, Text: "first"},
		{ID: bson.NewObjectID(), IssueID: issue.ID, SenderID: teen.ID, Text: "second"},
	}

	c := env.connect("c1")
	env.bind(c, teen.ID.Hex(), "teen")
	env.send(t, c, protocol.EvJoinIssue, protocol.JoinIssuePayload{IssueID: issue.ID.Hex()})

	evt := c.one(t, protocol.EvIssueMessages)
	history, ok := evt.Data.([]protocol.MessageView)
	if !ok || len(history) != 2 || history[0].Text != "first" {
		t.Fatalf("unexpected history payload: %+v", evt.Data)
	}

	// membership is live: a topic broadcast now reaches this connection
	env.srv.hub.BroadcastTopic(issue.ID.Hex(), protocol.New(protocol.EvNewMessage, nil))
	c.one(t, protocol.EvNewMessage)
}

func TestJoinIssue_UnknownIssue(t *testing.T) {
	env := newTestEnv(t)
	teen := env.users.add("Teen", "teen@example.com", "pw", "teen", false)
	c := env.connect("c1")
	env.bind(c, teen.ID.Hex(), "teen")

	env.send(t, c, protocol.EvJoinIssue, protocol.JoinIssuePayload{IssueID: bson.NewObjectID().Hex()})

	evt := c.one(t, protocol.EvError)
	if errCode(t, evt) != engine.CodeNotFound {
		t.Fatalf("expected not_found, got %+v", evt.Data)
	}
}

func TestSendMessage_IdentityOverridesPayload(t *testing.T) {
	env := newTestEnv(t)
	teen := env.users.add("Teen", "teen@example.com", "pw", "teen", false)
	c := env.connect("c1")
	env.bind(c, teen.ID.Hex(), "teen")

	issueID := bson.NewObjectID().Hex()
	env.send(t, c, protocol.EvSendMessage, protocol.SendMessagePayload{
		IssueID:    issueID,
		SenderID:   bson.NewObjectID().Hex(), // spoofed
		SenderRole: "mentor",                 // spoofed
		Text:       "hello",
	})

	if len(env.core.sends) != 1 {
		t.Fatalf("expected one engine send, got %d", len(env.core.sends))
	}
	got := env.core.sends[0]
	if got.senderID != teen.ID.Hex() || got.senderRole != "teen" {
		t.Fatalf("payload sender must be overridden by the bound identity: %+v", got)
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.srv.msgLimiter = ratelimit.NewLimiterStore(1, 1, time.Minute)
	t.Cleanup(env.srv.msgLimiter.Stop)

	teen := env.users.add("Teen", "teen@example.com", "pw", "teen", false)
	c := env.connect("c1")
	env.bind(c, teen.ID.Hex(), "teen")

	payload := protocol.SendMessagePayload{
		IssueID: bson.NewObjectID().Hex(), SenderID: teen.ID.Hex(), SenderRole: "teen", Text: "hi",
	}
	env.send(t, c, protocol.EvSendMessage, payload)
	env.send(t, c, protocol.EvSendMessage, payload)

	if len(env.core.sends) != 1 {
		t.Fatalf("expected only the first send to reach the engine, got %d", len(env.core.sends))
	}
	evt := c.one(t, protocol.EvSendMessageError)
	if errCode(t, evt) != engine.CodeValidationFailed {
		t.Fatalf("unexpected rate-limit code: %+v", evt.Data)
	}
}

func TestBlockMentor_TeenRoleRequired(t *testing.T) {
	env := newTestEnv(t)
	mentor := env.users.add("Mentor", "mentor@example.com", "pw", "mentor", false)
	target := env.users.add("Other", "other@example.com", "pw", "mentor", false)

	c := env.connect("c1")
	env.bind(c, mentor.ID.Hex(), "mentor")
	env.send(t, c, protocol.EvBlockMentor, protocol.BlockMentorPayload{MentorID: target.ID.Hex()})

	evt := c.one(t, protocol.EvBlockError)
	if errCode(t, evt) != engine.CodeNotAuthorized {
		t.Fatalf("expected not_authorized, got %+v", evt.Data)
	}
	if len(env.core.blocks) != 0 {
		t.Fatal("mentor-initiated block must not reach the engine")
	}
}

func TestBlockMentor_TeenSucceeds(t *testing.T) {
	env := newTestEnv(t)
	teen := env.users.add("Teen", "teen@example.com", "pw", "teen", false)
	mentor := env.users.add("Mentor", "mentor@example.com", "pw", "mentor", false)

	c := env.connect("c1")
	env.bind(c, teen.ID.Hex(), "teen")
	env.send(t, c, protocol.EvBlockMentor, protocol.BlockMentorPayload{MentorID: mentor.ID.Hex()})

	c.one(t, protocol.EvBlockSuccess)
	if len(env.core.blocks) != 1 || env.core.blocks[0] != [2]string{teen.ID.Hex(), mentor.ID.Hex()} {
		t.Fatalf("unexpected engine block calls: %+v", env.core.blocks)
	}
}

func TestGetMentors(t *testing.T) {
	env := newTestEnv(t)
	teen := env.users.add("Teen", "teen@example.com", "pw", "teen", false)
	env.users.add("Good", "good@example.com", "pw", "mentor", false)
	env.users.add("Banned", "banned@example.com", "pw", "mentor", true)

	c := env.connect("c1")
	env.bind(c, teen.ID.Hex(), "teen")
	env.send(t, c, protocol.EvGetMentors, map[string]string{})

	evt := c.one(t, protocol.EvMentorsData)
	views, ok := evt.Data.([]protocol.UserView)
	if !ok || len(views) != 1 || views[0].Name != "Good" {
		t.Fatalf("unexpected mentors payload: %+v", evt.Data)
	}
}
