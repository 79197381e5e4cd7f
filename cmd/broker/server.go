package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Anieshwar-Saravanan/TeenConnect/internal/auth"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/config"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/data"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/email"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/engine"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/hub"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/protocol"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/ratelimit"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// conn is the handler-facing view of one client connection.
type conn interface {
	hub.Sender
	ID() string
}

// userDirectory is the user-store surface the handlers read and write.
// *data.UsersStore satisfies it.
type userDirectory interface {
	Create(ctx context.Context, name, email, hashedPassword, role string) (*data.User, error)
	GetByEmail(ctx context.Context, email string) (*data.User, error)
	GetByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	ListMentors(ctx context.Context) ([]*data.User, error)
}

// issueBoard serves the read-only issue queries. *data.IssuesStore
// satisfies it; every mutation goes through the lifecycle engine instead.
type issueBoard interface {
	GetByID(ctx context.Context, id bson.ObjectID) (*data.Issue, error)
	ListAll(ctx context.Context) ([]*data.Issue, error)
}

// messageHistory serves the history replay on topic join.
// *data.MessagesStore satisfies it.
type messageHistory interface {
	ListByIssue(ctx context.Context, issueID bson.ObjectID) ([]*data.Message, error)
}

// blockDirectory lists a teen's blocked mentors. *trust.Ledger satisfies it.
type blockDirectory interface {
	ListBlocked(ctx context.Context, teenID bson.ObjectID) ([]bson.ObjectID, error)
}

// lifecycle is the engine surface handlers invoke. *engine.Engine
// satisfies it.
type lifecycle interface {
	IssueView(ctx context.Context, issue *data.Issue) *protocol.IssueView
	CreateIssue(ctx context.Context, title, description, createdBy string) (*protocol.IssueView, error)
	AssignIssue(ctx context.Context, issueID, mentorID string) (*protocol.IssueView, error)
	SendMessage(ctx context.Context, issueID, senderID, senderRole, text string) (*protocol.MessageView, error)
	BlockMentor(ctx context.Context, teenID, mentorID string) error
	UnblockMentor(ctx context.Context, teenID, mentorID string) error
	DeleteChat(ctx context.Context, issueID, actorID, scope string) error
	DeleteMessage(ctx context.Context, messageID, issueID, actorID, scope string) error
}

// Server owns the dispatch table and the dependencies handlers reach for.
type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	hub    *hub.Hub
	engine lifecycle

	users  userDirectory
	issues issueBoard
	msgs   messageHistory
	trust  blockDirectory

	jwt  *auth.JWTManager
	otp  *auth.OTPStore
	mail *email.Service

	authLimiter *ratelimit.LimiterStore
	msgLimiter  *ratelimit.LimiterStore

	handlers map[string]handlerFunc
	// events a connection may send before authenticate has bound an identity
	open map[string]bool
}

type handlerFunc func(ctx context.Context, c conn, raw json.RawMessage)

// client wraps one websocket connection. Writes are serialized so handler
// goroutines and hub broadcasts never interleave frames.
type client struct {
	id      string
	sock    *websocket.Conn
	writeMu sync.Mutex
}

// ID returns the connection id assigned at accept time.
func (c *client) ID() string { return c.id }

// Send implements hub.Sender.
func (c *client) Send(evt protocol.Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.sock, evt)
}

// Close implements hub.Sender. Used for forced disconnects.
func (c *client) Close(reason string) error {
	return c.sock.Close(websocket.StatusPolicyViolation, reason)
}

// handleWS upgrades the connection and runs its read loop. Events from one
// connection are processed strictly in arrival order; independent
// connections run concurrently in their own handler goroutine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &client{id: uuid.NewString(), sock: sock}
	s.hub.Track(c.id, c)
	s.log.Info("connection opened", zap.String("conn_id", c.id))

	defer func() {
		s.hub.Drop(c.id)
		_ = sock.Close(websocket.StatusNormalClosure, "")
		s.log.Info("connection closed", zap.String("conn_id", c.id))
	}()

	ctx := r.Context()
	for {
		_, raw, err := sock.Read(ctx)
		if err != nil {
			return
		}
		in, err := protocol.ParseInbound(raw)
		if err != nil {
			s.sendError(c, protocol.EvError, engine.CodeValidationFailed, err.Error())
			continue
		}
		s.dispatch(ctx, c, in)
	}
}

// dispatch routes one inbound event through the table, enforcing the
// authentication gate for every event that needs a bound identity.
func (s *Server) dispatch(ctx context.Context, c conn, in protocol.Inbound) {
	h, ok := s.handlers[in.Event]
	if !ok {
		s.sendError(c, protocol.EvError, engine.CodeValidationFailed, "unknown event: "+in.Event)
		return
	}

	if !s.open[in.Event] {
		if _, bound := s.hub.Identity(c.ID()); !bound {
			s.sendError(c, protocol.EvError, engine.CodeAuthenticationFailed, "authenticate first")
			return
		}
	}

	h(ctx, c, in.Data)
}

// sendError unicasts a typed error event to one connection.
func (s *Server) sendError(c conn, event, code, message string) {
	if err := c.Send(protocol.New(event, protocol.ErrorData{Code: code, Message: message})); err != nil {
		s.log.Warn("error reply delivery failed", zap.String("event", event), zap.Error(err))
	}
}

// replyEngineErr maps an engine error onto the operation's typed error
// event. Rejections keep their code and reason; anything else degrades to
// a generic upstream failure for the caller only.
func (s *Server) replyEngineErr(c conn, event string, err error) {
	var rej *engine.Reject
	if asReject(err, &rej) {
		s.sendError(c, event, rej.Code, rej.Reason)
		return
	}
	s.log.Error("handler failed", zap.String("event", event), zap.Error(err))
	s.sendError(c, event, engine.CodeUpstreamUnavailable, "something went wrong, please try again")
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
