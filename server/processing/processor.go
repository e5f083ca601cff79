package processing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ai-nutritionist/backend/server/conversation"
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/ai-nutritionist/backend/server/prompt"
	"github.com/ai-nutritionist/backend/server/provider"
	"github.com/ai-nutritionist/backend/server/reply"
	"github.com/ai-nutritionist/backend/server/session"
	"github.com/ai-nutritionist/backend/server/validation"
	"go.uber.org/zap"
)

// Completer sends a message sequence to the provider. *provider.Gateway
// implements it.
type Completer interface {
	Complete(ctx context.Context, messages []conversation.Turn, opts provider.Options) (string, error)
}

// Config wires a Processor.
type Config struct {
	Assembler *prompt.Assembler
	Parser    *reply.Parser
	Completer Completer
	// Sessions is nil when session mode is disabled.
	Sessions session.Store
	Tokens   *validation.TokenCounter
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	History    conversation.Limits
	Completion provider.Options
	Apology    string

	// BuyNow enables the buy_now flag once a conversation reaches
	// BuyNowThreshold user messages.
	BuyNow          bool
	BuyNowThreshold int
}

// Processor handles request processing for the conversational endpoint.
// The session store lock is never held across the provider call.
type Processor struct {
	cfg Config
	now func() time.Time
}

// NewProcessor validates cfg and returns a processor.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Assembler == nil {
		return nil, fmt.Errorf("prompt assembler is required")
	}
	if cfg.Parser == nil {
		return nil, fmt.Errorf("reply parser is required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = validation.NewHeuristicCounter()
	}
	if cfg.Apology == "" {
		cfg.Apology = "Sorry, I'm having trouble responding right now. Please try again in a moment."
	}
	return &Processor{cfg: cfg, now: time.Now}, nil
}

// SessionsEnabled reports whether session mode is available.
func (p *Processor) SessionsEnabled() bool {
	return p.cfg.Sessions != nil
}

// Process runs one exchange.
//
// Invalid input returns an error matching ErrInvalidInput before the
// provider is contacted. When the provider fails, Process returns both the
// apology Response (carrying the session id in session mode) and an error
// matching provider.ErrUpstreamUnavailable. Other errors are internal.
func (p *Processor) Process(ctx context.Context, req Request) (*Response, error) {
	if err := validation.ValidateMessage(req.Message); err != nil {
		return nil, err
	}
	if err := validation.ValidateHistory(req.History); err != nil {
		return nil, &validation.Error{
			Message: err.Error(),
			Fields:  []validation.FieldError{{Field: "history", Message: err.Error(), Code: "invalid_type"}},
		}
	}

	message := strings.TrimSpace(req.Message)
	log := p.cfg.Logger.With(zap.String("request_id", req.RequestID))
	userTurn := conversation.NewTurn(conversation.RoleUser, message)

	useSession := p.cfg.Sessions != nil && (req.UseSession == nil || *req.UseSession)

	var (
		messages     []conversation.Turn
		sessionID    string
		messageCount int
	)
	if useSession {
		sess, err := p.resume(ctx, req, userTurn, log)
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
		messageCount = sess.MessageCount
		messages = p.cfg.Assembler.FromSession(sess.Messages)
		log = log.With(zap.String("session_id", sessionID))
	} else {
		window := conversation.Normalize(req.History, p.cfg.History)
		messages = p.cfg.Assembler.Assemble(window, message)
		messageCount = 1 + countUserTurns(window)
	}

	tokens := p.cfg.Tokens.CountTurns(messages)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.PromptTokens.Observe(float64(tokens))
	}
	log.Debug("sending prompt",
		zap.Int("messages", len(messages)),
		zap.Int("estimated_tokens", tokens),
		zap.Bool("exact_tokens", p.cfg.Tokens.Exact()))

	raw, err := p.cfg.Completer.Complete(ctx, messages, p.cfg.Completion)
	if err != nil {
		return &Response{Reply: p.cfg.Apology, SessionID: sessionID}, err
	}

	parsed := p.cfg.Parser.Parse(raw)
	if parsed.Fallback {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.ParseFallbacks.Inc()
		}
		log.Info("model output was not a structured reply, using raw text",
			zap.Int("raw_length", len(raw)))
	}

	// A client that disconnected never saw the reply, so it is not recorded.
	if useSession && ctx.Err() == nil {
		assistant := conversation.NewTurn(conversation.RoleAssistant, parsed.Reply)
		if _, err := p.cfg.Sessions.Append(ctx, sessionID, assistant); err != nil {
			log.Warn("failed to record assistant turn", zap.Error(err))
		} else if p.cfg.Metrics != nil {
			p.cfg.Metrics.SessionTurns.Inc()
		}
	}

	resp := &Response{
		Reply:       parsed.Reply,
		Suggestions: parsed.Suggestions,
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []string{}
	}
	if useSession {
		resp.SessionID = sessionID
		resp.MessageCount = messageCount
	}
	if p.cfg.BuyNow {
		buy := reply.BuyNow(messageCount, p.cfg.BuyNowThreshold)
		resp.BuyNow = &buy
	}
	return resp, nil
}

// resume expires stale sessions, finds or creates the caller's session and
// records the user turn.
func (p *Processor) resume(ctx context.Context, req Request, userTurn conversation.Turn, log *zap.Logger) (*session.Session, error) {
	store := p.cfg.Sessions

	if removed, err := store.ExpireStale(ctx, p.now()); err != nil {
		log.Warn("session expiry sweep failed", zap.Error(err))
	} else if removed > 0 {
		log.Debug("expired idle sessions", zap.Int("removed", removed))
	}

	sess, created, err := store.GetOrCreate(ctx, req.SessionID, req.ClientSeed, p.cfg.Assembler.SystemTurn())
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if created {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.SessionsCreated.Inc()
		}
		if req.SessionID != "" {
			log.Info("requested session not found, started a new one",
				zap.String("requested_session_id", req.SessionID),
				zap.String("session_id", sess.ID))
		}
	}

	sess, err = store.Append(ctx, sess.ID, userTurn)
	if err != nil {
		return nil, fmt.Errorf("record user turn: %w", err)
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SessionTurns.Inc()
	}
	return sess, nil
}

// CreateSession starts an empty session seeded with the system instruction.
func (p *Processor) CreateSession(ctx context.Context, seed string) (*session.Session, error) {
	if p.cfg.Sessions == nil {
		return nil, fmt.Errorf("sessions are disabled")
	}
	sess, _, err := p.cfg.Sessions.GetOrCreate(ctx, "", seed, p.cfg.Assembler.SystemTurn())
	if err != nil {
		return nil, err
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SessionsCreated.Inc()
	}
	return sess, nil
}

func countUserTurns(turns []conversation.Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == conversation.RoleUser {
			n++
		}
	}
	return n
}
