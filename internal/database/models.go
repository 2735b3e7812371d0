package database

import (
	"time"
)

type Challenge struct {
	ID             string     `db:"id" json:"id"`
	Resource       string     `db:"resource" json:"resource"`
	Difficulty     int        `db:"difficulty" json:"difficulty"`
	Nonce          string     `db:"nonce" json:"nonce"`
	OwnerUserID    *string    `db:"owner_user_id" json:"ownerUserId,omitempty"`
	OwnerSessionID *string    `db:"owner_session_id" json:"ownerSessionId,omitempty"`
	IsUsed         bool       `db:"is_used" json:"isUsed"`
	UsedAt         *time.Time `db:"used_at" json:"usedAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expiresAt"`
}

type SolutionAttempt struct {
	ID            string    `db:"id" json:"id"`
	ChallengeID   string    `db:"challenge_id" json:"challengeId"`
	SolutionHash  string    `db:"solution_hash" json:"solutionHash"`
	SolutionNonce int64     `db:"solution_nonce" json:"solutionNonce"`
	ClientIP      string    `db:"client_ip" json:"clientIP"`
	UserAgent     string    `db:"user_agent" json:"userAgent"`
	Valid         bool      `db:"valid" json:"valid"`
	Reason        string    `db:"reason" json:"reason,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}
