// Package engine implements the request lifecycle state machine: issue
// creation, assignment, message exchange, the block-triggered teardown
// cascade and deletion. It is the sole mutator of issues and messages.
// Connections are never touched directly; outcomes go through a Notifier.
package engine

import (
	"context"
	"errors"

	"github.com/Anieshwar-Saravanan/TeenConnect/internal/data"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/moderation"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/normalize"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/protocol"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// UserStore is the user lookup surface the engine needs.
type UserStore interface {
	GetByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
}

// IssueStore is the issue persistence surface. *data.IssuesStore satisfies it.
type IssueStore interface {
	Create(ctx context.Context, title, description string, createdBy bson.ObjectID) (*data.Issue, error)
	GetByID(ctx context.Context, id bson.ObjectID) (*data.Issue, error)
	SetAssignedMentor(ctx context.Context, id, mentorID bson.ObjectID) error
	Delete(ctx context.Context, id bson.ObjectID) error
	ListByCreatorAndMentor(ctx context.Context, createdBy, mentorID bson.ObjectID) ([]*data.Issue, error)
}

// MessageStore is the message persistence surface. *data.MessagesStore satisfies it.
type MessageStore interface {
	Insert(ctx context.Context, issueID, senderID bson.ObjectID, text string, moderation map[string]float64) (*data.Message, error)
	GetByID(ctx context.Context, id bson.ObjectID) (*data.Message, error)
	Delete(ctx context.Context, id bson.ObjectID) error
	DeleteByIssue(ctx context.Context, issueID bson.ObjectID) error
}

// ViolationStore receives PII violation audit rows.
type ViolationStore interface {
	Insert(ctx context.Context, v *data.PIIViolation) error
}

// Blocklist is the trust-ledger surface. *trust.Ledger satisfies it.
type Blocklist interface {
	Block(ctx context.Context, teenID, mentorID bson.ObjectID) (crossed bool, err error)
	Unblock(ctx context.Context, teenID, mentorID bson.ObjectID) error
	IsBlocked(ctx context.Context, teenID, mentorID bson.ObjectID) (bool, error)
	IsForbidden(ctx context.Context, mentorID bson.ObjectID) (bool, error)
	Blockers(ctx context.Context, mentorID bson.ObjectID) ([]bson.ObjectID, error)
}

// ToxicityScorer scores mentor-authored text. *moderation.Scorer satisfies it.
type ToxicityScorer interface {
	Enabled() bool
	Score(ctx context.Context, text string) (moderation.ScoreResult, error)
}

// Notifier fans engine outcomes out to connections. *hub.Hub satisfies it.
type Notifier interface {
	BroadcastAll(evt protocol.Event)
	BroadcastTopic(issueID string, evt protocol.Event)
	NotifyUser(userID string, evt protocol.Event)
	DisconnectUser(userID, reason string)
}

// Engine orchestrates stores, the trust ledger and the safety filter to
// fulfil each inbound event.
type Engine struct {
	users      UserStore
	issues     IssueStore
	msgs       MessageStore
	violations ViolationStore
	trust      Blocklist
	scorer     ToxicityScorer
	notifier   Notifier
	log        *zap.Logger
}

// New wires an Engine.
func New(users UserStore, issues IssueStore, msgs MessageStore, violations ViolationStore,
	trust Blocklist, scorer ToxicityScorer, notifier Notifier, log *zap.Logger) *Engine {
	return &Engine{
		users:      users,
		issues:     issues,
		msgs:       msgs,
		violations: violations,
		trust:      trust,
		scorer:     scorer,
		notifier:   notifier,
		log:        log,
	}
}

func parseID(hex, what string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.ObjectID{}, reject(CodeValidationFailed, "invalid "+what)
	}
	return id, nil
}

// storeErr maps unexpected store failures on the primary write path to a
// generic upstream rejection; Reject values pass through untouched.
func storeErr(err error) error {
	var rej *Reject
	if errors.As(err, &rej) {
		return err
	}
	if errors.Is(err, data.ErrNotFound) {
		return reject(CodeNotFound, "not found")
	}
	return reject(CodeUpstreamUnavailable, "something went wrong, please try again")
}

// logViolation records a PII hit as a detached best-effort write.
func (e *Engine) logViolation(userID bson.ObjectID, issueID *bson.ObjectID, det *moderation.Detection) {
	v := &data.PIIViolation{
		UserID:       userID,
		IssueID:      issueID,
		DetectedText: det.Text,
		DetectedType: det.Kind,
	}
	go func() {
		if err := e.violations.Insert(context.Background(), v); err != nil {
			e.log.Warn("pii violation log write failed", zap.Error(err))
		}
	}()
}

// IssueView projects an issue onto its wire shape, resolving the assigned
// mentor's public details when one is set.
func (e *Engine) IssueView(ctx context.Context, issue *data.Issue) *protocol.IssueView {
	v := &protocol.IssueView{
		ID:          issue.ID.Hex(),
		Title:       issue.Title,
		Description: issue.Description,
		CreatedBy:   issue.CreatedBy.Hex(),
		CreatedAt:   issue.CreatedAt,
	}
	if issue.AssignedMentor != nil {
		ref := &protocol.MentorRef{ID: issue.AssignedMentor.Hex()}
		if u, err := e.users.GetByID(ctx, *issue.AssignedMentor); err == nil {
			ref.Name = u.Name
			ref.Email = u.Email
		} else {
			e.log.Warn("assigned mentor lookup failed",
				zap.String("mentor_id", ref.ID), zap.Error(err))
		}
		v.AssignedMentor = ref
	}
	return v
}

// MessageView projects a message onto its wire shape.
func MessageView(m *data.Message) protocol.MessageView {
	return protocol.MessageView{
		ID:         m.ID.Hex(),
		IssueID:    m.IssueID.Hex(),
		SenderID:   m.SenderID.Hex(),
		Text:       m.Text,
		Moderation: m.Moderation,
		CreatedAt:  m.CreatedAt,
	}
}

// CreateIssue validates and persists a new unassigned issue, then
// broadcasts new_issue board-wide. Title and description are PII-checked
// together; a hit rejects the create without a row.
func (e *Engine) CreateIssue(ctx context.Context, title, description, createdBy string) (*protocol.IssueView, error) {
	creatorID, err := parseID(createdBy, "createdBy")
	if err != nil {
		return nil, err
	}
	title = normalize.Text(title)
	description = normalize.Text(description)
	if title == "" || description == "" {
		return nil, reject(CodeValidationFailed, "title and description are required")
	}

	if det, found := moderation.DetectPII(title + " " + description); found {
		e.logViolation(creatorID, nil, det)
		return nil, reject(CodePIIDetected,
			"please remove personal contact details ("+det.Kind+") before posting")
	}

	issue, err := e.issues.Create(ctx, title, description, creatorID)
	if err != nil {
		e.log.Error("issue create failed", zap.Error(err))
		return nil, storeErr(err)
	}

	view := e.IssueView(ctx, issue)
	e.notifier.BroadcastAll(protocol.New(protocol.EvNewIssue, view))
	return view, nil
}

// AssignIssue claims an issue for a mentor. Preconditions in order: issue
// exists, mentor exists, mentor is not forbidden, the issue's creator has
// not blocked the mentor. Reassignment is last-writer-wins.
func (e *Engine) AssignIssue(ctx context.Context, issueID, mentorID string) (*protocol.IssueView, error) {
	isID, err := parseID(issueID, "issueId")
	if err != nil {
		return nil, err
	}
	mID, err := parseID(mentorID, "mentorId")
	if err != nil {
		return nil, err
	}

	issue, err := e.issues.GetByID(ctx, isID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, reject(CodeNotFound, "issue not found")
		}
		return nil, storeErr(err)
	}

	mentor, err := e.users.GetByID(ctx, mID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, reject(CodeNotFound, "mentor not found")
		}
		return nil, storeErr(err)
	}
	if mentor.Role != protocol.RoleMentor {
		return nil, reject(CodeNotFound, "mentor not found")
	}

	// Re-read, never cache: a forbidden transition must win a race against
	// an in-flight assignment.
	forbidden, err := e.trust.IsForbidden(ctx, mID)
	if err != nil {
		return nil, storeErr(err)
	}
	if forbidden {
		return nil, reject(CodeForbidden, "this mentor is no longer available")
	}

	blocked, err := e.trust.IsBlocked(ctx, issue.CreatedBy, mID)
	if err != nil {
		return nil, storeErr(err)
	}
	if blocked {
		return nil, reject(CodeNotAuthorized, "this teen has blocked "+mentor.Name)
	}

	if err := e.issues.SetAssignedMentor(ctx, isID, mID); err != nil {
		e.log.Error("issue assignment failed", zap.Error(err),
			zap.String("issue_id", issueID))
		return nil, storeErr(err)
	}

	issue.AssignedMentor = &mID
	view := e.IssueView(ctx, issue)
	e.notifier.BroadcastAll(protocol.New(protocol.EvIssueUpdated, view))
	return view, nil
}

// SendMessage gates a message through validation, the per-send relationship
// checks and the content safety filter, persists it, then broadcasts
// new_message to the issue's topic only.
func (e *Engine) SendMessage(ctx context.Context, issueID, senderID, senderRole, text string) (*protocol.MessageView, error) {
	isID, err := parseID(issueID, "issueId")
	if err != nil {
		return nil, err
	}
	sID, err := parseID(senderID, "senderId")
	if err != nil {
		return nil, err
	}

	text = normalize.Text(text)
	if text == "" {
		return nil, reject(CodeValidationFailed, "message text must not be empty")
	}

	issue, err := e.issues.GetByID(ctx, isID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, reject(CodeNotFound, "issue not found")
		}
		return nil, storeErr(err)
	}

	// The assigned mentor's standing is checked freshly on every send.
	if issue.AssignedMentor != nil && *issue.AssignedMentor == sID {
		forbidden, err := e.trust.IsForbidden(ctx, sID)
		if err != nil {
			return nil, storeErr(err)
		}
		if forbidden {
			return nil, reject(CodeForbidden, "your account has been restricted")
		}
		blocked, err := e.trust.IsBlocked(ctx, issue.CreatedBy, sID)
		if err != nil {
			return nil, storeErr(err)
		}
		if blocked {
			return nil, reject(CodeNotAuthorized, "you can no longer message this teen")
		}
	}

	if det, found := moderation.DetectPII(text); found {
		e.logViolation(sID, &isID, det)
		return nil, reject(CodePIIDetected,
			"sharing personal contact details ("+det.Kind+") is not allowed")
	}

	// Toxicity scoring applies to mentor-authored text only; teens are not
	// gated by this check. Scoring failures degrade to "no summary".
	var summary map[string]float64
	if senderRole == protocol.RoleMentor && e.scorer.Enabled() {
		result, err := e.scorer.Score(ctx, text)
		if err != nil {
			e.log.Warn("toxicity scoring unavailable, delivering without summary",
				zap.Error(err))
		} else if result.Blocked {
			return nil, reject(CodeContentBlocked,
				"this message was blocked by content moderation")
		} else {
			summary = result.Summary
		}
	}

	msg, err := e.msgs.Insert(ctx, isID, sID, text, summary)
	if err != nil {
		e.log.Error("message insert failed", zap.Error(err),
			zap.String("issue_id", issueID))
		return nil, storeErr(err)
	}

	view := MessageView(msg)
	e.notifier.BroadcastTopic(issueID, protocol.New(protocol.EvNewMessage, view))
	return &view, nil
}

// BlockMentor records a block for the teen and, when the block pushes the
// mentor over the threshold, runs the enforcement cascade: one forbidden
// notification, forced disconnect, then teardown-and-replace of every
// affected conversation.
func (e *Engine) BlockMentor(ctx context.Context, teenID, mentorID string) error {
	tID, err := parseID(teenID, "teenId")
	if err != nil {
		return err
	}
	mID, err := parseID(mentorID, "mentorId")
	if err != nil {
		return err
	}

	mentor, err := e.users.GetByID(ctx, mID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return reject(CodeNotFound, "mentor not found")
		}
		return storeErr(err)
	}
	// Only mentors can be blocked: rows against an arbitrary user id must
	// never count toward anyone's blocker threshold.
	if mentor.Role != protocol.RoleMentor {
		return reject(CodeNotFound, "mentor not found")
	}

	already, err := e.trust.IsBlocked(ctx, tID, mID)
	if err != nil {
		return storeErr(err)
	}
	if already {
		return reject(CodeAlreadyBlocked, "you have already blocked this mentor")
	}

	crossed, err := e.trust.Block(ctx, tID, mID)
	if err != nil {
		e.log.Error("block insert failed", zap.Error(err))
		return storeErr(err)
	}

	e.notifier.NotifyUser(mentorID, protocol.New(protocol.EvBlockedByTeen,
		map[string]string{"teenId": teenID}))

	if crossed {
		e.notifier.NotifyUser(mentorID, protocol.New(protocol.EvForbidden, protocol.ErrorData{
			Code:    CodeForbidden,
			Message: "Your account has been restricted after repeated reports",
		}))
		e.notifier.DisconnectUser(mentorID, "forbidden")
		e.cascade(ctx, mID)
	}
	return nil
}

// UnblockMentor removes the block relationship. The forbidden flag, once
// set, stays set.
func (e *Engine) UnblockMentor(ctx context.Context, teenID, mentorID string) error {
	tID, err := parseID(teenID, "teenId")
	if err != nil {
		return err
	}
	mID, err := parseID(mentorID, "mentorId")
	if err != nil {
		return err
	}

	if err := e.trust.Unblock(ctx, tID, mID); err != nil {
		return storeErr(err)
	}

	e.notifier.NotifyUser(mentorID, protocol.New(protocol.EvUnblockedByTeen,
		map[string]string{"teenId": teenID}))
	return nil
}

// cascade tears down and replaces every issue owned by any blocking teen
// and currently assigned to the now-forbidden mentor. Failures on one
// issue are logged and do not abort processing of the rest.
func (e *Engine) cascade(ctx context.Context, mentorID bson.ObjectID) {
	blockers, err := e.trust.Blockers(ctx, mentorID)
	if err != nil {
		e.log.Error("cascade aborted: blocker listing failed", zap.Error(err),
			zap.String("mentor_id", mentorID.Hex()))
		return
	}

	for _, teenID := range blockers {
		issues, err := e.issues.ListByCreatorAndMentor(ctx, teenID, mentorID)
		if err != nil {
			e.log.Warn("cascade: issue listing failed", zap.Error(err),
				zap.String("teen_id", teenID.Hex()))
			continue
		}
		for _, issue := range issues {
			if err := e.replaceIssue(ctx, issue); err != nil {
				e.log.Warn("cascade: issue replacement failed", zap.Error(err),
					zap.String("issue_id", issue.ID.Hex()))
			}
		}
	}
}

// replaceIssue deletes one conversation and recreates it as a fresh open
// issue with the same title, description and creator, then tells the old
// topic where to go and refreshes the board.
func (e *Engine) replaceIssue(ctx context.Context, old *data.Issue) error {
	if err := e.msgs.DeleteByIssue(ctx, old.ID); err != nil {
		return err
	}
	if err := e.issues.Delete(ctx, old.ID); err != nil && !errors.Is(err, data.ErrNotFound) {
		return err
	}

	replacement, err := e.issues.Create(ctx, old.Title, old.Description, old.CreatedBy)
	if err != nil {
		return err
	}

	oldID := old.ID.Hex()
	e.notifier.BroadcastTopic(oldID, protocol.New(protocol.EvChatDeleted, protocol.ChatDeletedData{
		OldIssueID: oldID,
		NewIssueID: replacement.ID.Hex(),
	}))
	e.notifier.BroadcastAll(protocol.New(protocol.EvIssueRemoved, protocol.IssueRemovedData{ID: oldID}))
	e.notifier.BroadcastAll(protocol.New(protocol.EvNewIssue, e.IssueView(ctx, replacement)))

	e.log.Info("issue replaced by block cascade",
		zap.String("old_issue_id", oldID),
		zap.String("new_issue_id", replacement.ID.Hex()))
	return nil
}

// DeleteChat handles delete_chat. for_me is a client-local acknowledgment:
// no server-side mutation at all. for_everyone removes the issue and its
// messages for good; only the creator or the assigned mentor may do it,
// and nothing is recreated.
func (e *Engine) DeleteChat(ctx context.Context, issueID, actorID, scope string) error {
	switch scope {
	case protocol.ScopeForMe:
		return nil
	case protocol.ScopeForEveryone:
	default:
		return reject(CodeInvalidScope, "scope must be for_me or for_everyone")
	}

	isID, err := parseID(issueID, "issueId")
	if err != nil {
		return err
	}
	aID, err := parseID(actorID, "actorId")
	if err != nil {
		return err
	}

	issue, err := e.issues.GetByID(ctx, isID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return reject(CodeNotFound, "issue not found")
		}
		return storeErr(err)
	}

	authorized := issue.CreatedBy == aID ||
		(issue.AssignedMentor != nil && *issue.AssignedMentor == aID)
	if !authorized {
		return reject(CodeNotAuthorized, "only the creator or assigned mentor can delete this chat")
	}

	if err := e.msgs.DeleteByIssue(ctx, isID); err != nil {
		return storeErr(err)
	}
	if err := e.issues.Delete(ctx, isID); err != nil && !errors.Is(err, data.ErrNotFound) {
		return storeErr(err)
	}

	e.notifier.BroadcastTopic(issueID, protocol.New(protocol.EvChatDeleted,
		protocol.ChatDeletedData{OldIssueID: issueID}))
	e.notifier.BroadcastAll(protocol.New(protocol.EvIssueRemoved,
		protocol.IssueRemovedData{ID: issueID}))
	return nil
}

// DeleteMessage handles delete_message. for_me is a local acknowledgment;
// for_everyone removes the single row (original sender only) and notifies
// the topic.
func (e *Engine) DeleteMessage(ctx context.Context, messageID, issueID, actorID, scope string) error {
	switch scope {
	case protocol.ScopeForMe:
		return nil
	case protocol.ScopeForEveryone:
	default:
		return reject(CodeInvalidScope, "scope must be for_me or for_everyone")
	}

	msgID, err := parseID(messageID, "messageId")
	if err != nil {
		return err
	}
	isID, err := parseID(issueID, "issueId")
	if err != nil {
		return err
	}
	aID, err := parseID(actorID, "actorId")
	if err != nil {
		return err
	}

	msg, err := e.msgs.GetByID(ctx, msgID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return reject(CodeNotFound, "message not found")
		}
		return storeErr(err)
	}
	if msg.IssueID != isID {
		return reject(CodeNotFound, "message not found in this chat")
	}
	if msg.SenderID != aID {
		return reject(CodeNotAuthorized, "only the sender can delete this message")
	}

	if err := e.msgs.Delete(ctx, msgID); err != nil {
		return storeErr(err)
	}

	e.notifier.BroadcastTopic(issueID, protocol.New(protocol.EvMessageDeleted,
		protocol.MessageDeletedData{MessageID: messageID, IssueID: issueID}))
	return nil
}
