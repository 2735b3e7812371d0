// Package gate composes proof-of-work validation and rate limiting in
// front of gated write operations.
package gate

import (
	"context"
	"time"

	"rightsgate/internal/pow"
	"rightsgate/internal/ratelimit"

	"go.uber.org/zap"
)

// Identity is the caller identity resolved by the external auth layer.
// UserID is empty for anonymous callers.
type Identity struct {
	UserID    string
	SessionID string
	ClientIP  string
}

func (id Identity) Anonymous() bool {
	return id.UserID == ""
}

// Key derives the rate-limit key for a scope, preferring the strongest
// identity available.
func (id Identity) Key(scope string) string {
	switch {
	case id.UserID != "":
		return "user:" + id.UserID + ":" + scope
	case id.SessionID != "":
		return "session:" + id.SessionID + ":" + scope
	default:
		return "ip:" + id.ClientIP + ":" + scope
	}
}

// Policy is the per-endpoint admission configuration.
type Policy struct {
	Resource pow.Resource
	Scope    string
	Limit    int
	Window   time.Duration
	// FailClosed denies when the shared counter store is unreachable
	// instead of falling back to the in-process counter.
	FailClosed bool
	RequirePoW bool
	// WaivePoWForAuthenticated skips the proof for callers with a user id.
	WaivePoWForAuthenticated bool
}

// Proof carries the PoW fields from a gated request. Provided is false when
// the caller omitted them entirely.
type Proof struct {
	ChallengeID   string
	SolutionHash  string
	SolutionNonce int64
	Provided      bool
	Meta          pow.AttemptMeta
}

// Decision codes mirrored in the HTTP error contract.
const (
	CodePoWRequired       = "POW_REQUIRED"
	CodeInvalidPoW        = "INVALID_POW"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

type Decision struct {
	Allowed   bool
	Code      string
	Reason    string
	Remaining int
	ResetAt   time.Time
}

type ChallengeValidator interface {
	Validate(ctx context.Context, challengeID, solutionHash string, solutionNonce int64, meta pow.AttemptMeta) (pow.Verdict, error)
}

type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration, failClosed bool) ratelimit.Result
}

type Gate struct {
	validator ChallengeValidator
	limiter   Limiter
	log       *zap.Logger
}

func New(validator ChallengeValidator, limiter Limiter, log *zap.Logger) *Gate {
	return &Gate{
		validator: validator,
		limiter:   limiter,
		log:       log,
	}
}

// Admit runs the admission pipeline for one gated write: proof-of-work
// first, then the rate limit. Both must pass; a rejection has no side
// effects beyond consuming a valid challenge.
func (g *Gate) Admit(ctx context.Context, id Identity, p Policy, proof Proof) Decision {
	if g.powRequired(id, p) {
		if dec, ok := g.checkPoW(ctx, p, proof); !ok {
			return dec
		}
	}

	res := g.limiter.Check(ctx, id.Key(p.Scope), p.Limit, p.Window, p.FailClosed)
	if !res.Allowed {
		return Decision{
			Allowed: false,
			Code:    CodeRateLimitExceeded,
			ResetAt: res.ResetAt,
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt,
	}
}

func (g *Gate) powRequired(id Identity, p Policy) bool {
	if !p.RequirePoW {
		return false
	}
	if !id.Anonymous() && p.WaivePoWForAuthenticated {
		return false
	}
	return true
}

func (g *Gate) checkPoW(ctx context.Context, p Policy, proof Proof) (Decision, bool) {
	if !proof.Provided {
		return Decision{Allowed: false, Code: CodePoWRequired}, false
	}

	verdict, err := g.validator.Validate(ctx, proof.ChallengeID, proof.SolutionHash, proof.SolutionNonce, proof.Meta)
	if err != nil {
		// Infrastructure failure in the challenge store resolves to the
		// endpoint's failure policy, never to a 500.
		g.log.Warn("challenge validation unavailable",
			zap.String("resource", string(p.Resource)),
			zap.Bool("failClosed", p.FailClosed),
			zap.Error(err),
		)
		if p.FailClosed {
			return Decision{Allowed: false, Code: CodeInvalidPoW, Reason: "verification unavailable"}, false
		}
		return Decision{}, true
	}

	if !verdict.Valid {
		return Decision{Allowed: false, Code: CodeInvalidPoW, Reason: verdict.Reason}, false
	}

	return Decision{}, true
}
