package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"rightsgate/internal/pow"
	"rightsgate/internal/ratelimit"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeValidator struct {
	verdict pow.Verdict
	err     error
	calls   int
	lastID  string
}

var _ ChallengeValidator = (*fakeValidator)(nil)

func (f *fakeValidator) Validate(_ context.Context, challengeID, _ string, _ int64, _ pow.AttemptMeta) (pow.Verdict, error) {
	f.calls++
	f.lastID = challengeID
	if f.err != nil {
		return pow.Verdict{}, f.err
	}
	return f.verdict, nil
}

type fakeLimiter struct {
	result     ratelimit.Result
	calls      int
	lastKey    string
	lastClosed bool
}

var _ Limiter = (*fakeLimiter)(nil)

func (f *fakeLimiter) Check(_ context.Context, key string, _ int, _ time.Duration, failClosed bool) ratelimit.Result {
	f.calls++
	f.lastKey = key
	f.lastClosed = failClosed
	return f.result
}

func allowAll() *fakeLimiter {
	return &fakeLimiter{result: ratelimit.Result{Allowed: true, Remaining: 4, ResetAt: time.Now().Add(time.Hour)}}
}

func reportPolicy() Policy {
	return Policy{
		Resource:   pow.ResourceReportSubmission,
		Scope:      "reports",
		Limit:      5,
		Window:     time.Hour,
		FailClosed: true,
		RequirePoW: true,
	}
}

func votePolicy() Policy {
	return Policy{
		Resource:                 pow.ResourceVoting,
		Scope:                    "votes",
		Limit:                    100,
		Window:                   time.Hour,
		RequirePoW:               true,
		WaivePoWForAuthenticated: true,
	}
}

func validProof() Proof {
	return Proof{ChallengeID: "c1", SolutionHash: "00000aaa", SolutionNonce: 7, Provided: true}
}

func TestAdmitAnonymousWithoutProof(t *testing.T) {
	lim := allowAll()
	g := New(&fakeValidator{}, lim, zap.NewNop())

	dec := g.Admit(context.Background(), Identity{SessionID: "s1"}, reportPolicy(), Proof{})
	require.False(t, dec.Allowed)
	require.Equal(t, CodePoWRequired, dec.Code)
	require.Zero(t, lim.calls, "rate limit is not consumed on a rejected request")
}

func TestAdmitInvalidProof(t *testing.T) {
	val := &fakeValidator{verdict: pow.Verdict{Valid: false, Reason: pow.ReasonInsufficientZeros}}
	g := New(val, allowAll(), zap.NewNop())

	dec := g.Admit(context.Background(), Identity{SessionID: "s1"}, reportPolicy(), validProof())
	require.False(t, dec.Allowed)
	require.Equal(t, CodeInvalidPoW, dec.Code)
	require.Equal(t, pow.ReasonInsufficientZeros, dec.Reason)
	require.Equal(t, "c1", val.lastID)
}

func TestAdmitValidProofThenRateLimited(t *testing.T) {
	resetAt := time.Now().Add(30 * time.Minute)
	lim := &fakeLimiter{result: ratelimit.Result{Allowed: false, ResetAt: resetAt}}
	g := New(&fakeValidator{verdict: pow.Verdict{Valid: true}}, lim, zap.NewNop())

	dec := g.Admit(context.Background(), Identity{SessionID: "s1"}, reportPolicy(), validProof())
	require.False(t, dec.Allowed)
	require.Equal(t, CodeRateLimitExceeded, dec.Code)
	require.Equal(t, resetAt, dec.ResetAt)
	require.Equal(t, "session:s1:reports", lim.lastKey)
	require.True(t, lim.lastClosed)
}

func TestAdmitAllowed(t *testing.T) {
	val := &fakeValidator{verdict: pow.Verdict{Valid: true}}
	lim := allowAll()
	g := New(val, lim, zap.NewNop())

	dec := g.Admit(context.Background(), Identity{UserID: "42"}, reportPolicy(), validProof())
	require.True(t, dec.Allowed)
	require.Equal(t, 4, dec.Remaining)
	require.Equal(t, 1, val.calls, "report submission requires PoW even when authenticated")
	require.Equal(t, "user:42:reports", lim.lastKey)
}

func TestAdmitWaivesPoWForAuthenticated(t *testing.T) {
	val := &fakeValidator{}
	lim := allowAll()
	g := New(val, lim, zap.NewNop())

	dec := g.Admit(context.Background(), Identity{UserID: "42"}, votePolicy(), Proof{})
	require.True(t, dec.Allowed)
	require.Zero(t, val.calls)
	require.Equal(t, "user:42:votes", lim.lastKey)
}

func TestAdmitNoPoWPolicy(t *testing.T) {
	val := &fakeValidator{}
	g := New(val, allowAll(), zap.NewNop())

	p := Policy{Scope: "challenges", Limit: 30, Window: time.Hour}
	dec := g.Admit(context.Background(), Identity{ClientIP: "1.2.3.4"}, p, Proof{})
	require.True(t, dec.Allowed)
	require.Zero(t, val.calls)
}

func TestAdmitValidatorErrorFailClosed(t *testing.T) {
	val := &fakeValidator{err: errors.New("db down")}
	lim := allowAll()
	g := New(val, lim, zap.NewNop())

	dec := g.Admit(context.Background(), Identity{SessionID: "s1"}, reportPolicy(), validProof())
	require.False(t, dec.Allowed)
	require.Equal(t, CodeInvalidPoW, dec.Code)
	require.Zero(t, lim.calls)
}

func TestAdmitValidatorErrorFailOpen(t *testing.T) {
	val := &fakeValidator{err: errors.New("db down")}
	lim := allowAll()
	g := New(val, lim, zap.NewNop())

	dec := g.Admit(context.Background(), Identity{SessionID: "s1"}, votePolicy(), validProof())
	require.True(t, dec.Allowed, "fail-open endpoints degrade rather than deny")
	require.Equal(t, 1, lim.calls)
}

func TestIdentityKeyDerivation(t *testing.T) {
	require.Equal(t, "user:42:reports", Identity{UserID: "42", SessionID: "s", ClientIP: "1.2.3.4"}.Key("reports"))
	require.Equal(t, "session:s:votes", Identity{SessionID: "s", ClientIP: "1.2.3.4"}.Key("votes"))
	require.Equal(t, "ip:1.2.3.4:challenges", Identity{ClientIP: "1.2.3.4"}.Key("challenges"))
}
