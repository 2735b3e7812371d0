// Package pow issues and validates SHA-256 proof-of-work challenges
// gating anonymous writes.
package pow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"rightsgate/internal/database"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Resource string

const (
	ResourceReportSubmission Resource = "report-submission"
	ResourceVoting           Resource = "voting"
)

func ParseResource(s string) (Resource, bool) {
	switch Resource(s) {
	case ResourceReportSubmission, ResourceVoting:
		return Resource(s), true
	}
	return "", false
}

func ValidResources() []string {
	return []string{string(ResourceReportSubmission), string(ResourceVoting)}
}

// Validation reasons surfaced verbatim to clients.
const (
	ReasonNotFound          = "not found"
	ReasonExpired           = "expired"
	ReasonAlreadyUsed       = "already used"
	ReasonMalformedHash     = "malformed solution hash"
	ReasonInsufficientZeros = "insufficient leading zeros"
)

type Verdict struct {
	Valid  bool
	Reason string
}

// AttemptMeta is request metadata recorded with each validation attempt.
type AttemptMeta struct {
	ClientIP  string
	UserAgent string
}

type ChallengeStore interface {
	CreateChallenge(ctx context.Context, challenge *database.Challenge) error
	GetChallenge(ctx context.Context, id string) (*database.Challenge, error)
	ConsumeChallenge(ctx context.Context, id string) (bool, error)
	CreateSolutionAttempt(ctx context.Context, attempt *database.SolutionAttempt) error
}

type Service struct {
	store        ChallengeStore
	difficulties map[Resource]int
	nonceBytes   int
	expiry       time.Duration
	log          *zap.Logger
}

func NewService(store ChallengeStore, difficulties map[Resource]int, nonceBytes int, expiry time.Duration, log *zap.Logger) *Service {
	return &Service{
		store:        store,
		difficulties: difficulties,
		nonceBytes:   nonceBytes,
		expiry:       expiry,
		log:          log,
	}
}

func (s *Service) Issue(ctx context.Context, resource Resource, ownerUserID, ownerSessionID string) (*database.Challenge, error) {
	difficulty, ok := s.difficulties[resource]
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", resource)
	}

	nonce := make([]byte, s.nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	challenge := &database.Challenge{
		ID:         uuid.NewString(),
		Resource:   string(resource),
		Difficulty: difficulty,
		Nonce:      hex.EncodeToString(nonce),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.expiry),
	}
	if ownerUserID != "" {
		challenge.OwnerUserID = &ownerUserID
	}
	if ownerSessionID != "" {
		challenge.OwnerSessionID = &ownerSessionID
	}

	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// Validate checks a submitted solution against an issued challenge and
// consumes the challenge on success. The solution hash is checked for shape
// (64 hex characters) and zero prefix only; the server never recomputes
// sha256(nonce + solutionNonce).
func (s *Service) Validate(ctx context.Context, challengeID, solutionHash string, solutionNonce int64, meta AttemptMeta) (Verdict, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to get challenge: %w", err)
	}
	if challenge == nil {
		return Verdict{Valid: false, Reason: ReasonNotFound}, nil
	}

	verdict, err := s.judge(ctx, challenge, solutionHash)
	if err != nil {
		return Verdict{}, err
	}

	s.recordAttempt(ctx, challenge.ID, solutionHash, solutionNonce, meta, verdict)

	return verdict, nil
}

func (s *Service) judge(ctx context.Context, challenge *database.Challenge, solutionHash string) (Verdict, error) {
	if time.Now().After(challenge.ExpiresAt) {
		return Verdict{Valid: false, Reason: ReasonExpired}, nil
	}

	if challenge.IsUsed {
		return Verdict{Valid: false, Reason: ReasonAlreadyUsed}, nil
	}

	if !isHexDigest(solutionHash) {
		return Verdict{Valid: false, Reason: ReasonMalformedHash}, nil
	}

	expectedPrefix := strings.Repeat("0", challenge.Difficulty)
	if !strings.HasPrefix(strings.ToLower(solutionHash), expectedPrefix) {
		return Verdict{Valid: false, Reason: ReasonInsufficientZeros}, nil
	}

	// Single conditional update: a concurrent duplicate submission loses
	// the race and is reported as already used.
	consumed, err := s.store.ConsumeChallenge(ctx, challenge.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !consumed {
		return Verdict{Valid: false, Reason: ReasonAlreadyUsed}, nil
	}

	return Verdict{Valid: true}, nil
}

func (s *Service) recordAttempt(ctx context.Context, challengeID, solutionHash string, solutionNonce int64, meta AttemptMeta, verdict Verdict) {
	attempt := &database.SolutionAttempt{
		ID:            uuid.NewString(),
		ChallengeID:   challengeID,
		SolutionHash:  solutionHash,
		SolutionNonce: solutionNonce,
		ClientIP:      meta.ClientIP,
		UserAgent:     meta.UserAgent,
		Valid:         verdict.Valid,
		Reason:        verdict.Reason,
		CreatedAt:     time.Now(),
	}

	// Audit trail only; a failed insert never fails validation.
	if err := s.store.CreateSolutionAttempt(ctx, attempt); err != nil {
		s.log.Warn("failed to record solution attempt",
			zap.String("challengeId", challengeID),
			zap.Error(err),
		)
	}
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
