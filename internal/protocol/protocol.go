// Package protocol defines the application-level event schema carried over
// each bidirectional client connection. Every frame is an envelope of the
// form {"event": "<name>", "data": {...}}; the payload shape is fixed per
// event name and validated at the broker boundary before any handler runs.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Roles accepted by the broker.
const (
	RoleTeen   = "teen"
	RoleMentor = "mentor"
)

// Delete scopes for delete_chat / delete_message.
const (
	ScopeForMe       = "for_me"
	ScopeForEveryone = "for_everyone"
)

// Inbound event names (client -> broker).
const (
	EvAuthenticate      = "authenticate"
	EvSignup            = "signup"
	EvLogin             = "login"
	EvSendOTP           = "send_otp"
	EvVerifyOTP         = "verify_otp"
	EvGetMentors        = "get_mentors"
	EvGetIssues         = "get_issues"
	EvCreateIssue       = "create_issue"
	EvAssignIssue       = "assign_issue"
	EvJoinIssue         = "join_issue"
	EvSendMessage       = "send_message"
	EvBlockMentor       = "block_mentor"
	EvUnblockMentor     = "unblock_mentor"
	EvGetBlockedMentors = "get_blocked_mentors"
	EvDeleteChat        = "delete_chat"
	EvDeleteMessage     = "delete_message"
)

// Outbound event names (broker -> client(s)).
const (
	EvAuthenticated      = "authenticated"
	EvForbidden          = "forbidden"
	EvSignupSuccess      = "signup_success"
	EvSignupError        = "signup_error"
	EvLoginSuccess       = "login_success"
	EvLoginError         = "login_error"
	EvOTPSent            = "otp_sent"
	EvOTPError           = "otp_error"
	EvOTPLoginSuccess    = "otp_login_success"
	EvOTPVerifyError     = "otp_verify_error"
	EvMentorsData        = "mentors_data"
	EvIssuesData         = "issues_data"
	EvNewIssue           = "new_issue"
	EvIssueUpdated       = "issue_updated"
	EvIssueMessages      = "issue_messages"
	EvNewMessage         = "new_message"
	EvSendMessageError   = "send_message_error"
	EvBlockedList        = "blocked_list"
	EvBlockSuccess       = "block_success"
	EvBlockError         = "block_error"
	EvUnblockSuccess     = "unblock_success"
	EvUnblockError       = "unblock_error"
	EvBlockedByTeen      = "blocked_by_teen"
	EvUnblockedByTeen    = "unblocked_by_teen"
	EvChatDeleted        = "chat_deleted"
	EvIssueRemoved       = "issue_removed"
	EvMessageDeleted     = "message_deleted"
	EvDeleteChatSuccess  = "delete_chat_success"
	EvDeleteChatError    = "delete_chat_error"
	EvDeleteMsgSuccess   = "delete_message_success"
	EvDeleteMsgError     = "delete_message_error"
	EvAssignSuccess      = "assign_success"
	EvAssignError        = "assign_error"
	EvCreateIssueError   = "create_issue_error"
	EvError              = "error"
)

// Inbound is the raw envelope read off the wire. Data stays undecoded until
// the dispatch table picks a payload type for the event name.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Event is an outbound envelope.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// New builds an outbound event.
func New(name string, data any) Event {
	return Event{Event: name, Data: data}
}

// ErrorData is the payload of every typed error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseInbound decodes a single wire frame.
func ParseInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("malformed event: %w", err)
	}
	if in.Event == "" {
		return Inbound{}, errors.New("missing event name")
	}
	return in, nil
}

func validRole(role string) bool {
	return role == RoleTeen || role == RoleMentor
}

// AuthenticatePayload binds a connection to an identity. Token is optional:
// when present it must be a JWT issued at login and wins over UserID.
type AuthenticatePayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Token  string `json:"token,omitempty"`
}

func (p AuthenticatePayload) Validate() error {
	if p.UserID == "" && p.Token == "" {
		return errors.New("userId or token is required")
	}
	if p.Token == "" && !validRole(p.Role) {
		return errors.New("role must be teen or mentor")
	}
	return nil
}

type SignupPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (p SignupPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Email) == "" || p.Password == "" {
		return errors.New("name, email and password are required")
	}
	if !validRole(p.Role) {
		return errors.New("role must be teen or mentor")
	}
	return nil
}

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (p LoginPayload) Validate() error {
	if strings.TrimSpace(p.Email) == "" || p.Password == "" {
		return errors.New("email and password are required")
	}
	if !validRole(p.Role) {
		return errors.New("role must be teen or mentor")
	}
	return nil
}

type SendOTPPayload struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (p SendOTPPayload) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return errors.New("email is required")
	}
	if !validRole(p.Role) {
		return errors.New("role must be teen or mentor")
	}
	return nil
}

type VerifyOTPPayload struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
	Role  string `json:"role"`
}

func (p VerifyOTPPayload) Validate() error {
	if strings.TrimSpace(p.Email) == "" || strings.TrimSpace(p.OTP) == "" {
		return errors.New("email and otp are required")
	}
	if !validRole(p.Role) {
		return errors.New("role must be teen or mentor")
	}
	return nil
}

type CreateIssuePayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
}

func (p CreateIssuePayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Description) == "" {
		return errors.New("title and description are required")
	}
	if p.CreatedBy == "" {
		return errors.New("createdBy is required")
	}
	return nil
}

type AssignIssuePayload struct {
	IssueID  string `json:"issueId"`
	MentorID string `json:"mentorId"`
}

func (p AssignIssuePayload) Validate() error {
	if p.IssueID == "" || p.MentorID == "" {
		return errors.New("issueId and mentorId are required")
	}
	return nil
}

type JoinIssuePayload struct {
	IssueID string `json:"issueId"`
}

func (p JoinIssuePayload) Validate() error {
	if p.IssueID == "" {
		return errors.New("issueId is required")
	}
	return nil
}

type SendMessagePayload struct {
	IssueID    string `json:"issueId"`
	SenderID   string `json:"senderId"`
	SenderRole string `json:"senderRole"`
	Text       string `json:"text"`
}

func (p SendMessagePayload) Validate() error {
	if p.IssueID == "" || p.SenderID == "" {
		return errors.New("issueId and senderId are required")
	}
	if !validRole(p.SenderRole) {
		return errors.New("senderRole must be teen or mentor")
	}
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("text must not be empty")
	}
	return nil
}

type BlockMentorPayload struct {
	MentorID string `json:"mentorId"`
}

func (p BlockMentorPayload) Validate() error {
	if p.MentorID == "" {
		return errors.New("mentorId is required")
	}
	return nil
}

type DeleteChatPayload struct {
	IssueID string `json:"issueId"`
	Scope   string `json:"scope"`
}

func (p DeleteChatPayload) Validate() error {
	if p.IssueID == "" {
		return errors.New("issueId is required")
	}
	if p.Scope != ScopeForMe && p.Scope != ScopeForEveryone {
		return errors.New("scope must be for_me or for_everyone")
	}
	return nil
}

type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
	IssueID   string `json:"issueId"`
	Scope     string `json:"scope"`
}

func (p DeleteMessagePayload) Validate() error {
	if p.MessageID == "" || p.IssueID == "" {
		return errors.New("messageId and issueId are required")
	}
	if p.Scope != ScopeForMe && p.Scope != ScopeForEveryone {
		return errors.New("scope must be for_me or for_everyone")
	}
	return nil
}

// MentorRef is the public projection of a mentor embedded in issue views.
type MentorRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// UserView is the public projection of a user returned by auth events.
type UserView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// IssueView is the wire shape of an issue in issues_data, new_issue and
// issue_updated events.
type IssueView struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	CreatedBy      string     `json:"createdBy"`
	AssignedMentor *MentorRef `json:"assignedMentor"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// MessageView is the wire shape of a persisted message. Moderation carries
// the attached safety-attribute scores when scoring ran; nil otherwise.
type MessageView struct {
	ID         string             `json:"id"`
	IssueID    string             `json:"issueId"`
	SenderID   string             `json:"senderId"`
	Text       string             `json:"text"`
	Moderation map[string]float64 `json:"moderation,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// ChatDeletedData is broadcast to a topic when its issue is torn down.
// NewIssueID is set only by the block cascade (the chat was replaced);
// explicit for_everyone deletes leave it empty.
type ChatDeletedData struct {
	OldIssueID string `json:"oldIssueId"`
	NewIssueID string `json:"newIssueId,omitempty"`
}

// IssueRemovedData is broadcast board-wide when an issue disappears.
type IssueRemovedData struct {
	ID string `json:"id"`
}

// MessageDeletedData is broadcast to a topic when one message is removed.
type MessageDeletedData struct {
	MessageID string `json:"messageId"`
	IssueID   string `json:"issueId"`
}
