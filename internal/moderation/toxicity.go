package moderation

import (
	"context"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// moderationAPI is the slice of the OpenAI client the scorer touches.
// *openai.Client satisfies it; tests substitute a scripted fake.
type moderationAPI interface {
	Moderations(ctx context.Context, req openai.ModerationRequest) (openai.ModerationResponse, error)
}

// Summary maps safety-attribute names to confidence scores in [0,1].
type Summary map[string]float64

// ScoreResult is the outcome of scoring one text.
type ScoreResult struct {
	Summary   Summary
	Blocked   bool
	Attribute string // the attribute that triggered the block, if any
}

// blockingAttributes are the attributes whose score at or above the
// threshold rejects the message outright. The remaining attributes only
// inform the summary attached to the persisted message.
var blockingAttributes = []string{"hate", "harassment"}

// Scorer calls the external moderation endpoint. Scoring is fail-open:
// any transport or service error is reported to the caller, who proceeds
// without a summary rather than blocking delivery.
type Scorer struct {
	client    moderationAPI
	threshold float64
	log       *zap.Logger
}

// NewScorer builds a Scorer. An empty apiKey returns a disabled scorer:
// Enabled() is false and messages pass without a summary.
func NewScorer(apiKey string, threshold float64, log *zap.Logger) *Scorer {
	s := &Scorer{threshold: threshold, log: log}
	if apiKey != "" {
		s.client = openai.NewClient(apiKey)
	}
	return s
}

// NewScorerWithClient wires an explicit client; used by tests.
func NewScorerWithClient(client moderationAPI, threshold float64, log *zap.Logger) *Scorer {
	return &Scorer{client: client, threshold: threshold, log: log}
}

// Enabled reports whether scoring is configured.
func (s *Scorer) Enabled() bool { return s.client != nil }

// Score submits text to the moderation endpoint and maps the category
// scores onto a Summary. The blocking decision is made here so callers
// only branch on Blocked.
func (s *Scorer) Score(ctx context.Context, text string) (ScoreResult, error) {
	resp, err := s.client.Moderations(ctx, openai.ModerationRequest{
		Model: openai.ModerationTextLatest,
		Input: text,
	})
	if err != nil {
		return ScoreResult{}, err
	}
	if len(resp.Results) == 0 {
		return ScoreResult{}, nil
	}

	scores := resp.Results[0].CategoryScores
	summary := Summary{
		"hate":             float64(scores.Hate),
		"hate/threatening": float64(scores.HateThreatening),
		"harassment":       float64(scores.Harassment),
		"self-harm":        float64(scores.SelfHarm),
		"sexual":           float64(scores.Sexual),
		"sexual/minors":    float64(scores.SexualMinors),
		"violence":         float64(scores.Violence),
		"violence/graphic": float64(scores.ViolenceGraphic),
	}

	result := ScoreResult{Summary: summary}
	for _, attr := range blockingAttributes {
		if summary[attr] >= s.threshold {
			result.Blocked = true
			result.Attribute = attr
			s.log.Info("message blocked by moderation",
				zap.String("attribute", attr),
				zap.Float64("score", summary[attr]))
			break
		}
	}
	return result, nil
}
