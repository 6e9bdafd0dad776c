// Package match asks a text-generation service whether a job posting fits the
// candidate and turns the free-form reply into a MatchVerdict.
package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/job-pilot/internal/llm"
	"github.com/jonathan/job-pilot/internal/prompts"
	"github.com/jonathan/job-pilot/internal/schemas"
	"github.com/jonathan/job-pilot/internal/types"
)

// DefaultRetries is the number of calls made before giving up on an empty or failed reply.
const DefaultRetries = 3

// Placeholder names substituted into the prompt template.
const (
	PlaceholderProfile         = "Profile"
	PlaceholderRejectionRules  = "RejectionRules"
	PlaceholderPreferenceRules = "PreferenceRules"
	PlaceholderJobDescription  = "JobDescription"
)

// ErrEmptyReply is recorded when the service answers with blank text.
var ErrEmptyReply = errors.New("empty reply from text service")

// Request is one evaluation input.
type Request struct {
	JobDescription  string
	Profile         string
	RejectionRules  string
	PreferenceRules string
}

// Evaluator builds the match prompt, calls the service and parses the verdict.
type Evaluator struct {
	client   llm.Client
	template string
	tier     llm.ModelTier
	retries  int
	log      logrus.FieldLogger
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

// WithTemplate replaces the catalog prompt with a user-authored one. Blank templates are ignored.
func WithTemplate(template string) Option {
	return func(e *Evaluator) {
		if strings.TrimSpace(template) != "" {
			e.template = template
		}
	}
}

// WithRetries sets the attempt budget for empty or failed replies.
func WithRetries(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.retries = n
		}
	}
}

// WithTier selects the model tier.
func WithTier(tier llm.ModelTier) Option {
	return func(e *Evaluator) {
		e.tier = tier
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Evaluator) {
		if log != nil {
			e.log = log
		}
	}
}

// DefaultTemplate returns the catalog prompt used when no template is configured.
func DefaultTemplate() string {
	return prompts.MustGet("match.json", "evaluate-job")
}

// NewEvaluator creates an Evaluator over client.
func NewEvaluator(client llm.Client, opts ...Option) (*Evaluator, error) {
	if client == nil {
		return nil, fmt.Errorf("text service client is required")
	}

	e := &Evaluator{
		client:   client,
		template: DefaultTemplate(),
		tier:     llm.TierStandard,
		retries:  DefaultRetries,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// BuildPrompt substitutes the four request fields into the template.
func (e *Evaluator) BuildPrompt(req Request) string {
	return prompts.Format(e.template, map[string]string{
		PlaceholderProfile:         req.Profile,
		PlaceholderRejectionRules:  req.RejectionRules,
		PlaceholderPreferenceRules: req.PreferenceRules,
		PlaceholderJobDescription:  req.JobDescription,
	})
}

// Evaluate returns a verdict for req. Service failures and unparseable replies
// produce a non-matching verdict rather than an error; only cancellation of ctx
// is returned as an error.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (types.MatchVerdict, error) {
	prompt := e.BuildPrompt(req)

	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return types.MatchVerdict{}, err
		}

		reply, err := e.client.GenerateContent(ctx, prompt, e.tier)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.MatchVerdict{}, ctxErr
			}
			lastErr = err
		} else if strings.TrimSpace(reply) == "" {
			lastErr = ErrEmptyReply
		} else {
			return ParseVerdict(reply), nil
		}

		e.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"of":      e.retries,
		}).WithError(lastErr).Warn("AI evaluation attempt failed")
	}

	return types.MatchVerdict{
		Match:     false,
		Reasoning: fmt.Sprintf("AI evaluation failed after %d attempts: %v", e.retries, lastErr),
	}, nil
}

// ParseVerdict extracts the verdict object from a raw reply. It never fails:
// anything that cannot be read as a verdict becomes a non-match whose
// reasoning describes the problem.
func ParseVerdict(raw string) types.MatchVerdict {
	span, ok := llm.ObjectSpan(raw)
	if !ok {
		return rejected("no JSON object found in reply")
	}

	if err := schemas.ValidateVerdict(span); err != nil {
		return rejected(fmt.Sprintf("invalid verdict: %v", err))
	}

	var verdict types.MatchVerdict
	if err := json.Unmarshal([]byte(span), &verdict); err != nil {
		return rejected(fmt.Sprintf("failed to decode verdict: %v", err))
	}

	if strings.TrimSpace(verdict.Greeting) == "" {
		if greeting, found := GreetingFallback(raw); found {
			verdict.Greeting = greeting
		}
	}
	verdict.Greeting = strings.TrimSpace(verdict.Greeting)

	if verdict.Match && verdict.Greeting == "" {
		verdict.Match = false
		verdict.Reasoning = strings.TrimSpace(verdict.Reasoning + " (matched, but no greeting message was produced)")
	}

	return verdict
}

// GreetingFallback returns the text inside the brackets following
// "GREETING_MESSAGE:" in raw.
func GreetingFallback(raw string) (string, bool) {
	const prefix = "GREETING_MESSAGE:"

	idx := strings.Index(raw, prefix)
	if idx < 0 {
		return "", false
	}
	rest := raw[idx+len(prefix):]

	open := strings.Index(rest, "[")
	if open < 0 {
		return "", false
	}
	end := strings.Index(rest[open+1:], "]")
	if end < 0 {
		return "", false
	}

	greeting := strings.TrimSpace(rest[open+1 : open+1+end])
	return greeting, greeting != ""
}

func rejected(reason string) types.MatchVerdict {
	return types.MatchVerdict{Match: false, Reasoning: reason}
}
