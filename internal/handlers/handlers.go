package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"rightsgate/internal/config"
	"rightsgate/internal/database"
	"rightsgate/internal/gate"
	"rightsgate/internal/notify"
	"rightsgate/internal/pow"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type ChallengeIssuer interface {
	Issue(ctx context.Context, resource pow.Resource, ownerUserID, ownerSessionID string) (*database.Challenge, error)
}

type Admitter interface {
	Admit(ctx context.Context, id gate.Identity, p gate.Policy, proof gate.Proof) gate.Decision
}

// ReportSink and VoteSink are the boundary to the out-of-scope persistence
// layer; the gate only decides admission.
type SubmitReportInput struct {
	Title       string
	Description string
	Identity    gate.Identity
}

type ReportSink interface {
	SubmitReport(ctx context.Context, in SubmitReportInput) (string, error)
}

type CastVoteInput struct {
	ReportID string
	Value    int
	Identity gate.Identity
}

type VoteSink interface {
	CastVote(ctx context.Context, in CastVoteInput) error
}

type HealthCheck func(ctx context.Context) error

type Handler struct {
	cfg      *config.Config
	issuer   ChallengeIssuer
	admitter Admitter
	reports  ReportSink
	votes    VoteSink
	notifier *notify.Dispatcher
	dbPing   HealthCheck
	rdbPing  HealthCheck
	log      *zap.Logger

	challengePolicy gate.Policy
	reportPolicy    gate.Policy
	votePolicy      gate.Policy
}

func NewHandler(cfg *config.Config, issuer ChallengeIssuer, admitter Admitter, reports ReportSink, votes VoteSink, notifier *notify.Dispatcher, dbPing, rdbPing HealthCheck, log *zap.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		issuer:   issuer,
		admitter: admitter,
		reports:  reports,
		votes:    votes,
		notifier: notifier,
		dbPing:   dbPing,
		rdbPing:  rdbPing,
		log:      log,

		challengePolicy: gate.Policy{
			Scope:      "challenges",
			Limit:      cfg.ChallengeLimit,
			Window:     time.Duration(cfg.ChallengeWindowMins) * time.Minute,
			FailClosed: false,
		},
		reportPolicy: gate.Policy{
			Resource:   pow.ResourceReportSubmission,
			Scope:      "reports",
			Limit:      cfg.ReportLimit,
			Window:     time.Duration(cfg.ReportWindowMins) * time.Minute,
			FailClosed: true,
			RequirePoW: true,
		},
		votePolicy: gate.Policy{
			Resource:                 pow.ResourceVoting,
			Scope:                    "votes",
			Limit:                    cfg.VoteLimit,
			Window:                   time.Duration(cfg.VoteWindowMins) * time.Minute,
			FailClosed:               false,
			RequirePoW:               true,
			WaivePoWForAuthenticated: true,
		},
	}
}

type challengeRequest struct {
	Resource string `json:"resource"`
}

type challengeData struct {
	ChallengeID string    `json:"challengeId"`
	Nonce       string    `json:"nonce"`
	Difficulty  int       `json:"difficulty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type reportRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	powFields
}

type voteRequest struct {
	Value int `json:"value"`
	powFields
}

type powFields struct {
	PoWChallengeID   string `json:"powChallengeId"`
	PoWSolution      string `json:"powSolution"`
	PoWSolutionNonce int64  `json:"powSolutionNonce"`
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

type apiError struct {
	Success        bool     `json:"success"`
	Code           string   `json:"code"`
	Message        string   `json:"message,omitempty"`
	ValidResources []string `json:"validResources,omitempty"`
	ResetAt        string   `json:"resetAt,omitempty"`
}

func (h *Handler) ChallengeHandler(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: "invalid JSON"})
		return
	}

	resource, ok := pow.ParseResource(req.Resource)
	if !ok {
		writeError(w, http.StatusBadRequest, apiError{
			Code:           "INVALID_RESOURCE",
			Message:        "unknown resource type",
			ValidResources: pow.ValidResources(),
		})
		return
	}

	id := h.identityFrom(r)

	dec := h.admitter.Admit(r.Context(), id, h.challengePolicy, gate.Proof{})
	if !dec.Allowed {
		h.writeDenial(w, dec)
		return
	}

	challenge, err := h.issuer.Issue(r.Context(), resource, id.UserID, id.SessionID)
	if err != nil {
		h.log.Error("failed to issue challenge", zap.Error(err))
		writeError(w, http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: "failed to issue challenge"})
		return
	}

	writeJSON(w, http.StatusCreated, apiResponse{Success: true, Data: challengeData{
		ChallengeID: challenge.ID,
		Nonce:       challenge.Nonce,
		Difficulty:  challenge.Difficulty,
		ExpiresAt:   challenge.ExpiresAt,
	}})
}

func (h *Handler) SubmitReportHandler(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: "invalid JSON"})
		return
	}

	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: "title and description are required"})
		return
	}

	id := h.identityFrom(r)

	dec := h.admitter.Admit(r.Context(), id, h.reportPolicy, h.proofFrom(r, req.powFields))
	if !dec.Allowed {
		h.writeDenial(w, dec)
		return
	}

	reportID, err := h.reports.SubmitReport(r.Context(), SubmitReportInput{
		Title:       req.Title,
		Description: req.Description,
		Identity:    id,
	})
	if err != nil {
		h.log.Error("failed to submit report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: "failed to submit report"})
		return
	}

	h.notifier.Publish(notify.Event{
		Kind:     "report.accepted",
		Resource: string(pow.ResourceReportSubmission),
		Key:      id.Key("reports"),
	})

	writeJSON(w, http.StatusCreated, apiResponse{Success: true, Data: map[string]string{"reportId": reportID}})
}

func (h *Handler) CastVoteHandler(w http.ResponseWriter, r *http.Request) {
	reportID := mux.Vars(r)["id"]

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: "invalid JSON"})
		return
	}

	if req.Value != 1 && req.Value != -1 {
		writeError(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: "value must be 1 or -1"})
		return
	}

	id := h.identityFrom(r)

	dec := h.admitter.Admit(r.Context(), id, h.votePolicy, h.proofFrom(r, req.powFields))
	if !dec.Allowed {
		h.writeDenial(w, dec)
		return
	}

	if err := h.votes.CastVote(r.Context(), CastVoteInput{
		ReportID: reportID,
		Value:    req.Value,
		Identity: id,
	}); err != nil {
		h.log.Error("failed to cast vote", zap.Error(err))
		writeError(w, http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: "failed to cast vote"})
		return
	}

	h.notifier.Publish(notify.Event{
		Kind:     "vote.accepted",
		Resource: string(pow.ResourceVoting),
		Key:      id.Key("votes"),
	})

	writeJSON(w, http.StatusOK, apiResponse{Success: true})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{
		"service": "rightsgate",
		"db":      "ok",
		"redis":   "ok",
	}

	if err := h.dbPing(ctx); err != nil {
		status["db"] = "unreachable"
	}
	if err := h.rdbPing(ctx); err != nil {
		status["redis"] = "unreachable"
	}

	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: status})
}

// identityFrom reads the identity headers set by the upstream auth layer.
func (h *Handler) identityFrom(r *http.Request) gate.Identity {
	return gate.Identity{
		UserID:    r.Header.Get("X-User-ID"),
		SessionID: r.Header.Get("X-Session-ID"),
		ClientIP:  getClientIP(r),
	}
}

func (h *Handler) proofFrom(r *http.Request, f powFields) gate.Proof {
	return gate.Proof{
		ChallengeID:   f.PoWChallengeID,
		SolutionHash:  f.PoWSolution,
		SolutionNonce: f.PoWSolutionNonce,
		Provided:      f.PoWChallengeID != "" && f.PoWSolution != "",
		Meta: pow.AttemptMeta{
			ClientIP:  getClientIP(r),
			UserAgent: r.Header.Get("User-Agent"),
		},
	}
}

func (h *Handler) writeDenial(w http.ResponseWriter, dec gate.Decision) {
	switch dec.Code {
	case gate.CodeRateLimitExceeded:
		writeError(w, http.StatusTooManyRequests, apiError{
			Code:    dec.Code,
			ResetAt: dec.ResetAt.UTC().Format(time.RFC3339),
		})
	case gate.CodePoWRequired:
		writeError(w, http.StatusBadRequest, apiError{Code: dec.Code, Message: "proof of work is required"})
	default:
		writeError(w, http.StatusBadRequest, apiError{Code: dec.Code, Message: dec.Reason})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, e apiError) {
	e.Success = false
	writeJSON(w, status, e)
}

func getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		if net.ParseIP(realIP) != nil {
			return realIP
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
