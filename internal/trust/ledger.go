// Package trust tracks block relationships between teens and mentors and
// owns the forbidden ratchet: once enough distinct teens block a mentor,
// the mentor is marked forbidden and never readmitted by this code path.
package trust

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// BlockStore is the persistence the ledger needs for block relationships.
// *data.BlocksStore satisfies it.
type BlockStore interface {
	Insert(ctx context.Context, teenID, mentorID bson.ObjectID) error
	Remove(ctx context.Context, teenID, mentorID bson.ObjectID) error
	Exists(ctx context.Context, teenID, mentorID bson.ObjectID) (bool, error)
	CountBlockers(ctx context.Context, mentorID bson.ObjectID) (int64, error)
	ListBlockedBy(ctx context.Context, teenID bson.ObjectID) ([]bson.ObjectID, error)
	ListBlockers(ctx context.Context, mentorID bson.ObjectID) ([]bson.ObjectID, error)
}

// UserFlags is the slice of the user store the ledger mutates.
// *data.UsersStore satisfies it. MarkForbidden must be an atomic
// false-to-true flip so racing threshold crossings resolve to one winner.
type UserFlags interface {
	IsForbidden(ctx context.Context, id bson.ObjectID) (bool, error)
	MarkForbidden(ctx context.Context, id bson.ObjectID) (bool, error)
}

// Ledger evaluates the block threshold. It does not talk to connections;
// the lifecycle engine reacts to a threshold crossing.
type Ledger struct {
	blocks    BlockStore
	users     UserFlags
	threshold int
	log       *zap.Logger
}

// NewLedger returns a Ledger enforcing the given distinct-blocker threshold.
func NewLedger(blocks BlockStore, users UserFlags, threshold int, log *zap.Logger) *Ledger {
	return &Ledger{blocks: blocks, users: users, threshold: threshold, log: log}
}

// Block records the relationship and reports whether this block pushed the
// mentor over the threshold for the first time. The insert is the primary
// operation; count and flag errors after it are logged and swallowed so a
// recordable block never fails on the follow-up reads.
func (l *Ledger) Block(ctx context.Context, teenID, mentorID bson.ObjectID) (crossed bool, err error) {
	if err := l.blocks.Insert(ctx, teenID, mentorID); err != nil {
		return false, err
	}

	count, err := l.blocks.CountBlockers(ctx, mentorID)
	if err != nil {
		l.log.Warn("blocker count query failed", zap.Error(err),
			zap.String("mentor_id", mentorID.Hex()))
		return false, nil
	}
	if count < int64(l.threshold) {
		return false, nil
	}

	// Atomic false-to-true flip: when two blocks race past the threshold,
	// exactly one caller observes the transition and triggers enforcement.
	flipped, err := l.users.MarkForbidden(ctx, mentorID)
	if err != nil {
		l.log.Warn("failed to set forbidden flag", zap.Error(err),
			zap.String("mentor_id", mentorID.Hex()))
		return false, nil
	}
	if !flipped {
		// Already ratcheted by an earlier crossing.
		return false, nil
	}

	l.log.Info("mentor crossed block threshold",
		zap.String("mentor_id", mentorID.Hex()),
		zap.Int64("distinct_blockers", count))
	return true, nil
}

// Unblock removes the relationship. It never clears the forbidden flag,
// even if the blocker count drops back under the threshold.
func (l *Ledger) Unblock(ctx context.Context, teenID, mentorID bson.ObjectID) error {
	return l.blocks.Remove(ctx, teenID, mentorID)
}

// IsBlocked reports whether the teen has blocked the mentor.
func (l *Ledger) IsBlocked(ctx context.Context, teenID, mentorID bson.ObjectID) (bool, error) {
	return l.blocks.Exists(ctx, teenID, mentorID)
}

// IsForbidden re-reads the forbidden flag from the store. Never cached:
// a forbidden transition must win any race with an in-flight assignment.
func (l *Ledger) IsForbidden(ctx context.Context, mentorID bson.ObjectID) (bool, error) {
	return l.users.IsForbidden(ctx, mentorID)
}

// ListBlocked returns the mentors a teen has blocked.
func (l *Ledger) ListBlocked(ctx context.Context, teenID bson.ObjectID) ([]bson.ObjectID, error) {
	return l.blocks.ListBlockedBy(ctx, teenID)
}

// Blockers returns the distinct teens blocking a mentor. The cascade uses
// this set to find every conversation that must be torn down.
func (l *Ledger) Blockers(ctx context.Context, mentorID bson.ObjectID) ([]bson.ObjectID, error) {
	return l.blocks.ListBlockers(ctx, mentorID)
}
