package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Anieshwar-Saravanan/TeenConnect/internal/auth"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/data"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/engine"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/hub"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/normalize"
	"github.com/Anieshwar-Saravanan/TeenConnect/internal/protocol"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func asReject(err error, target **engine.Reject) bool {
	return errors.As(err, target)
}

// registerHandlers builds the dispatch table. Every inbound event name
// maps to exactly one handler; anything else is rejected at dispatch.
func (s *Server) registerHandlers() {
	s.handlers = map[string]handlerFunc{
		protocol.EvAuthenticate:      s.handleAuthenticate,
		protocol.EvSignup:            s.handleSignup,
		protocol.EvLogin:             s.handleLogin,
		protocol.EvSendOTP:           s.handleSendOTP,
		protocol.EvVerifyOTP:         s.handleVerifyOTP,
		protocol.EvGetMentors:        s.handleGetMentors,
		protocol.EvGetIssues:         s.handleGetIssues,
		protocol.EvCreateIssue:       s.handleCreateIssue,
		protocol.EvAssignIssue:       s.handleAssignIssue,
		protocol.EvJoinIssue:         s.handleJoinIssue,
		protocol.EvSendMessage:       s.handleSendMessage,
		protocol.EvBlockMentor:       s.handleBlockMentor,
		protocol.EvUnblockMentor:     s.handleUnblockMentor,
		protocol.EvGetBlockedMentors: s.handleGetBlockedMentors,
		protocol.EvDeleteChat:        s.handleDeleteChat,
		protocol.EvDeleteMessage:     s.handleDeleteMessage,
	}
	s.open = map[string]bool{
		protocol.EvAuthenticate: true,
		protocol.EvSignup:       true,
		protocol.EvLogin:        true,
		protocol.EvSendOTP:      true,
		protocol.EvVerifyOTP:    true,
	}
}

func userView(u *data.User) protocol.UserView {
	return protocol.UserView{
		ID:    u.ID.Hex(),
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

func (s *Server) handleAuthenticate(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.AuthenticatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvError, engine.CodeValidationFailed, "malformed authenticate payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvError, engine.CodeValidationFailed, err.Error())
		return
	}

	userID, role := p.UserID, p.Role
	if p.Token != "" {
		claims, err := s.jwt.VerifyToken(p.Token)
		if err != nil {
			s.sendError(c, protocol.EvError, engine.CodeAuthenticationFailed, "invalid or expired token")
			return
		}
		userID, role = claims.UserID, claims.Role
	}

	uid, err := bson.ObjectIDFromHex(userID)
	if err != nil {
		s.sendError(c, protocol.EvError, engine.CodeAuthenticationFailed, "unknown user")
		return
	}
	user, err := s.users.GetByID(ctx, uid)
	if err != nil {
		s.sendError(c, protocol.EvError, engine.CodeAuthenticationFailed, "unknown user")
		return
	}
	if user.Role != role {
		s.sendError(c, protocol.EvError, engine.CodeAuthenticationFailed, "role mismatch")
		return
	}

	// A forbidden mentor never gets a bound session: notify and hang up.
	if role == protocol.RoleMentor && user.Forbidden {
		s.sendError(c, protocol.EvForbidden, engine.CodeForbidden,
			"Your account has been restricted after repeated reports")
		_ = c.Close("forbidden")
		return
	}

	s.hub.Bind(c.ID(), hub.Identity{UserID: userID, Role: role})
	if err := c.Send(protocol.New(protocol.EvAuthenticated, userView(user))); err != nil {
		s.log.Warn("authenticated reply failed", zap.Error(err))
	}
}

func (s *Server) handleSignup(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.SignupPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvSignupError, engine.CodeValidationFailed, "malformed signup payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvSignupError, engine.CodeValidationFailed, err.Error())
		return
	}
	if !s.authLimiter.Allow("signup:" + normalize.Email(p.Email)) {
		s.sendError(c, protocol.EvSignupError, engine.CodeValidationFailed, "too many attempts, slow down")
		return
	}

	hashed, err := auth.HashPassword(p.Password)
	if err != nil {
		s.replyEngineErr(c, protocol.EvSignupError, err)
		return
	}

	user, err := s.users.Create(ctx, p.Name, p.Email, hashed, p.Role)
	if err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			s.sendError(c, protocol.EvSignupError, engine.CodeValidationFailed, "an account with this email already exists")
			return
		}
		s.replyEngineErr(c, protocol.EvSignupError, err)
		return
	}

	token, _, err := s.jwt.GenerateToken(user.ID, user.Role)
	if err != nil {
		s.replyEngineErr(c, protocol.EvSignupError, err)
		return
	}

	_ = c.Send(protocol.New(protocol.EvSignupSuccess, map[string]any{
		"user":  userView(user),
		"token": token,
	}))
}

func (s *Server) handleLogin(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.LoginPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvLoginError, engine.CodeValidationFailed, "malformed login payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvLoginError, engine.CodeValidationFailed, err.Error())
		return
	}
	if !s.authLimiter.Allow("login:" + normalize.Email(p.Email)) {
		s.sendError(c, protocol.EvLoginError, engine.CodeAuthenticationFailed, "too many attempts, slow down")
		return
	}

	user, err := s.users.GetByEmail(ctx, p.Email)
	if err != nil || auth.CheckPassword(user.Password, p.Password) != nil || user.Role != p.Role {
		s.sendError(c, protocol.EvLoginError, engine.CodeAuthenticationFailed, "invalid credentials")
		return
	}

	token, _, err := s.jwt.GenerateToken(user.ID, user.Role)
	if err != nil {
		s.replyEngineErr(c, protocol.EvLoginError, err)
		return
	}

	_ = c.Send(protocol.New(protocol.EvLoginSuccess, map[string]any{
		"user":  userView(user),
		"token": token,
	}))
}

func (s *Server) handleSendOTP(_ context.Context, c conn, raw json.RawMessage) {
	var p protocol.SendOTPPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvOTPError, engine.CodeValidationFailed, "malformed send_otp payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvOTPError, engine.CodeValidationFailed, err.Error())
		return
	}
	if !s.authLimiter.Allow("otp:" + normalize.Email(p.Email)) {
		s.sendError(c, protocol.EvOTPError, engine.CodeValidationFailed, "too many attempts, slow down")
		return
	}

	code, err := s.otp.Issue(p.Email, p.Role)
	if err != nil {
		s.replyEngineErr(c, protocol.EvOTPError, err)
		return
	}

	// Delivery is a detached side effect: a failed send is logged but the
	// client still gets otp_sent, matching the fire-and-forget contract.
	if s.mail.IsConfigured() {
		go func(to, code string) {
			if err := s.mail.SendOTP(to, code); err != nil {
				s.log.Warn("otp email delivery failed",
					zap.String("email", to), zap.Error(err))
			}
		}(normalize.Email(p.Email), code)
	} else {
		s.log.Info("otp issued without email transport",
			zap.String("email", normalize.Email(p.Email)))
	}

	_ = c.Send(protocol.New(protocol.EvOTPSent, map[string]string{"email": normalize.Email(p.Email)}))
}

func (s *Server) handleVerifyOTP(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.VerifyOTPPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvOTPVerifyError, engine.CodeValidationFailed, "malformed verify_otp payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvOTPVerifyError, engine.CodeValidationFailed, err.Error())
		return
	}

	role, err := s.otp.Verify(p.Email, p.OTP)
	if err != nil {
		s.sendError(c, protocol.EvOTPVerifyError, engine.CodeAuthenticationFailed, err.Error())
		return
	}
	if role != p.Role {
		s.sendError(c, protocol.EvOTPVerifyError, engine.CodeAuthenticationFailed, "code was requested for a different role")
		return
	}

	// First-time OTP logins get an account created on the spot.
	user, err := s.users.GetByEmail(ctx, p.Email)
	if errors.Is(err, data.ErrNotFound) {
		hashed, herr := auth.HashPassword(uuid.NewString())
		if herr != nil {
			s.replyEngineErr(c, protocol.EvOTPVerifyError, herr)
			return
		}
		user, err = s.users.Create(ctx, normalize.Email(p.Email), p.Email, hashed, role)
	}
	if err != nil {
		s.replyEngineErr(c, protocol.EvOTPVerifyError, err)
		return
	}
	if user.Role != role {
		s.sendError(c, protocol.EvOTPVerifyError, engine.CodeAuthenticationFailed, "this email is registered under a different role")
		return
	}

	token, _, err := s.jwt.GenerateToken(user.ID, user.Role)
	if err != nil {
		s.replyEngineErr(c, protocol.EvOTPVerifyError, err)
		return
	}

	_ = c.Send(protocol.New(protocol.EvOTPLoginSuccess, map[string]any{
		"user":  userView(user),
		"token": token,
	}))
}

func (s *Server) handleGetMentors(ctx context.Context, c conn, _ json.RawMessage) {
	mentors, err := s.users.ListMentors(ctx)
	if err != nil {
		s.replyEngineErr(c, protocol.EvError, err)
		return
	}
	views := make([]protocol.UserView, 0, len(mentors))
	for _, m := range mentors {
		views = append(views, userView(m))
	}
	_ = c.Send(protocol.New(protocol.EvMentorsData, views))
}

func (s *Server) handleGetIssues(ctx context.Context, c conn, _ json.RawMessage) {
	issues, err := s.issues.ListAll(ctx)
	if err != nil {
		s.replyEngineErr(c, protocol.EvError, err)
		return
	}
	views := make([]*protocol.IssueView, 0, len(issues))
	for _, issue := range issues {
		views = append(views, s.engine.IssueView(ctx, issue))
	}
	_ = c.Send(protocol.New(protocol.EvIssuesData, views))
}

func (s *Server) handleCreateIssue(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.CreateIssuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvCreateIssueError, engine.CodeValidationFailed, "malformed create_issue payload")
		return
	}
	ident, _ := s.hub.Identity(c.ID())
	if p.CreatedBy == "" {
		p.CreatedBy = ident.UserID
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvCreateIssueError, engine.CodeValidationFailed, err.Error())
		return
	}

	// The bound identity is authoritative for ownership.
	if _, err := s.engine.CreateIssue(ctx, p.Title, p.Description, ident.UserID); err != nil {
		s.replyEngineErr(c, protocol.EvCreateIssueError, err)
	}
}

func (s *Server) handleAssignIssue(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.AssignIssuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvAssignError, engine.CodeValidationFailed, "malformed assign_issue payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvAssignError, engine.CodeValidationFailed, err.Error())
		return
	}

	view, err := s.engine.AssignIssue(ctx, p.IssueID, p.MentorID)
	if err != nil {
		s.replyEngineErr(c, protocol.EvAssignError, err)
		return
	}
	_ = c.Send(protocol.New(protocol.EvAssignSuccess, view))
}

func (s *Server) handleJoinIssue(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.JoinIssuePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvError, engine.CodeValidationFailed, "malformed join_issue payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvError, engine.CodeValidationFailed, err.Error())
		return
	}

	issueID, err := bson.ObjectIDFromHex(p.IssueID)
	if err != nil {
		s.sendError(c, protocol.EvError, engine.CodeNotFound, "issue not found")
		return
	}
	if _, err := s.issues.GetByID(ctx, issueID); err != nil {
		s.sendError(c, protocol.EvError, engine.CodeNotFound, "issue not found")
		return
	}

	s.hub.Join(p.IssueID, c.ID())

	history, err := s.msgs.ListByIssue(ctx, issueID)
	if err != nil {
		s.replyEngineErr(c, protocol.EvError, err)
		return
	}
	views := make([]protocol.MessageView, 0, len(history))
	for _, m := range history {
		views = append(views, engine.MessageView(m))
	}
	_ = c.Send(protocol.New(protocol.EvIssueMessages, views))
}

func (s *Server) handleSendMessage(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvSendMessageError, engine.CodeValidationFailed, "malformed send_message payload")
		return
	}
	ident, _ := s.hub.Identity(c.ID())
	// The bound identity is authoritative for sender and role; the payload
	// fields exist for protocol compatibility and are not trusted.
	p.SenderID = ident.UserID
	p.SenderRole = ident.Role
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvSendMessageError, engine.CodeValidationFailed, err.Error())
		return
	}

	if !s.msgLimiter.Allow("msg:" + ident.UserID) {
		s.sendError(c, protocol.EvSendMessageError, engine.CodeValidationFailed, "you are sending messages too quickly")
		return
	}

	if _, err := s.engine.SendMessage(ctx, p.IssueID, p.SenderID, p.SenderRole, p.Text); err != nil {
		s.replyEngineErr(c, protocol.EvSendMessageError, err)
	}
}

func (s *Server) handleBlockMentor(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.BlockMentorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvBlockError, engine.CodeValidationFailed, "malformed block_mentor payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvBlockError, engine.CodeValidationFailed, err.Error())
		return
	}

	ident, _ := s.hub.Identity(c.ID())
	if ident.Role != protocol.RoleTeen {
		s.sendError(c, protocol.EvBlockError, engine.CodeNotAuthorized, "only teens can block mentors")
		return
	}

	if err := s.engine.BlockMentor(ctx, ident.UserID, p.MentorID); err != nil {
		s.replyEngineErr(c, protocol.EvBlockError, err)
		return
	}
	_ = c.Send(protocol.New(protocol.EvBlockSuccess, map[string]string{"mentorId": p.MentorID}))
}

func (s *Server) handleUnblockMentor(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.BlockMentorPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvUnblockError, engine.CodeValidationFailed, "malformed unblock_mentor payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvUnblockError, engine.CodeValidationFailed, err.Error())
		return
	}

	ident, _ := s.hub.Identity(c.ID())
	if ident.Role != protocol.RoleTeen {
		s.sendError(c, protocol.EvUnblockError, engine.CodeNotAuthorized, "only teens can unblock mentors")
		return
	}

	if err := s.engine.UnblockMentor(ctx, ident.UserID, p.MentorID); err != nil {
		s.replyEngineErr(c, protocol.EvUnblockError, err)
		return
	}
	_ = c.Send(protocol.New(protocol.EvUnblockSuccess, map[string]string{"mentorId": p.MentorID}))
}

func (s *Server) handleGetBlockedMentors(ctx context.Context, c conn, _ json.RawMessage) {
	ident, _ := s.hub.Identity(c.ID())
	teenID, err := bson.ObjectIDFromHex(ident.UserID)
	if err != nil {
		s.sendError(c, protocol.EvError, engine.CodeAuthenticationFailed, "unknown user")
		return
	}

	ids, err := s.trust.ListBlocked(ctx, teenID)
	if err != nil {
		s.replyEngineErr(c, protocol.EvError, err)
		return
	}

	refs := make([]protocol.MentorRef, 0, len(ids))
	for _, id := range ids {
		ref := protocol.MentorRef{ID: id.Hex()}
		if u, uerr := s.users.GetByID(ctx, id); uerr == nil {
			ref.Name = u.Name
			ref.Email = u.Email
		}
		refs = append(refs, ref)
	}
	_ = c.Send(protocol.New(protocol.EvBlockedList, refs))
}

func (s *Server) handleDeleteChat(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.DeleteChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvDeleteChatError, engine.CodeValidationFailed, "malformed delete_chat payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvDeleteChatError, engine.CodeInvalidScope, err.Error())
		return
	}

	ident, _ := s.hub.Identity(c.ID())
	if err := s.engine.DeleteChat(ctx, p.IssueID, ident.UserID, p.Scope); err != nil {
		s.replyEngineErr(c, protocol.EvDeleteChatError, err)
		return
	}
	_ = c.Send(protocol.New(protocol.EvDeleteChatSuccess, map[string]string{
		"issueId": p.IssueID,
		"scope":   p.Scope,
	}))
}

func (s *Server) handleDeleteMessage(ctx context.Context, c conn, raw json.RawMessage) {
	var p protocol.DeleteMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.sendError(c, protocol.EvDeleteMsgError, engine.CodeValidationFailed, "malformed delete_message payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError(c, protocol.EvDeleteMsgError, engine.CodeInvalidScope, err.Error())
		return
	}

	ident, _ := s.hub.Identity(c.ID())
	if err := s.engine.DeleteMessage(ctx, p.MessageID, p.IssueID, ident.UserID, p.Scope); err != nil {
		s.replyEngineErr(c, protocol.EvDeleteMsgError, err)
		return
	}
	_ = c.Send(protocol.New(protocol.EvDeleteMsgSuccess, map[string]string{
		"messageId": p.MessageID,
		"issueId":   p.IssueID,
		"scope":     p.Scope,
	}))
}
