package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/getourhome/agentservice/internal/auth"
	"github.com/getourhome/agentservice/internal/config"
	"github.com/getourhome/agentservice/internal/domain/agent"
	"github.com/getourhome/agentservice/internal/http/middlewares"
	"github.com/getourhome/agentservice/internal/notifications"
	"github.com/getourhome/agentservice/internal/security"
	"github.com/gin-gonic/gin"
)

type AgentReader interface {
	GetByID(ctx context.Context, id string) (agent.Agent, error)
	GetByLoginID(ctx context.Context, loginID string) (agent.Agent, error)
	GetByEmail(ctx context.Context, email string) (agent.Agent, error)
	GetByRegistrationNumber(ctx context.Context, registrationNumber string) (agent.Agent, error)
}

type AgentWriter interface {
	Create(ctx context.Context, req agent.CreateAgentRequest, passwordHash string) (agent.Agent, error)
	UpdateAgencyName(ctx context.Context, id, agencyName string) (agent.Agent, error)
}

type AuthHandler struct {
	agents      AgentReader
	agentWriter AgentWriter
	jwt         *auth.Manager
	notifier    notifications.Notifier
	log         *slog.Logger
}

func NewAuthHandler(agents AgentReader, agentWriter AgentWriter, jwtManager *auth.Manager, notifier notifications.Notifier, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		agents:      agents,
		agentWriter: agentWriter,
		jwt:         jwtManager,
		notifier:    notifier,
		log:         log,
	}
}

type LoginRequest struct {
	LoginID  string `json:"loginId" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type UpdateAgencyNameRequest struct {
	AgencyName string `json:"agencyName" binding:"required"`
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req agent.CreateAgentRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)

	defer cancel()

	// Uniqueness pre-checks, in order; the first violation wins. A conflicting
	// write that lands between a check and the insert is caught again by the
	// unique indexes and reported as the same duplicate error.
	if ok := h.checkAvailable(ctx, "login_id_taken", "Login ID already exists", func() (agent.Agent, error) {
		return h.agents.GetByLoginID(cctx, req.LoginID)
	}); !ok {
		return
	}

	if ok := h.checkAvailable(ctx, "email_taken", "Email already exists", func() (agent.Agent, error) {
		return h.agents.GetByEmail(cctx, req.Email)
	}); !ok {
		return
	}

	if ok := h.checkAvailable(ctx, "registration_number_taken", "Registration number already exists", func() (agent.Agent, error) {
		return h.agents.GetByRegistrationNumber(cctx, req.RegistrationNumber)
	}); !ok {
		return
	}

	hash, err := security.HashPassword(req.Password)

	if err != nil {
		RespondInternal(ctx, "Could not register agent")
		return
	}

	_, err = h.agentWriter.Create(cctx, req, hash)

	if err != nil {
		switch {
		case errors.Is(err, agent.ErrDuplicateLoginID):
			RespondBadRequest(ctx, "login_id_taken", "Login ID already exists")
		case errors.Is(err, agent.ErrDuplicateEmail):
			RespondBadRequest(ctx, "email_taken", "Email already exists")
		case errors.Is(err, agent.ErrDuplicateRegistrationNumber):
			RespondBadRequest(ctx, "registration_number_taken", "Registration number already exists")
		default:
			RespondInternal(ctx, "Could not register agent")
		}
		return
	}

	// No token here: registration waits for admin approval.
	ctx.JSON(http.StatusCreated, gin.H{
		"message": "registration submitted for approval",
	})
}

func (h *AuthHandler) checkAvailable(ctx *gin.Context, code, message string, lookup func() (agent.Agent, error)) bool {
	_, err := lookup()

	if err == nil {
		RespondBadRequest(ctx, code, message)
		return false
	}

	if !errors.Is(err, agent.ErrNotFound) {
		RespondInternal(ctx, "Could not register agent")
		return false
	}

	return true
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// short timeout for DB lookup
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	found, err := h.agents.GetByLoginID(cctx, req.LoginID)

	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			// same answer as a bad password: do not reveal account existence
			RespondBadRequest(ctx, "invalid_credentials", "Login ID or password is incorrect")
			return
		}

		RespondInternal(ctx, "Could not log in")
		return
	}

	err = security.CheckPassword(found.PasswordHash, req.Password)

	if err != nil {
		RespondBadRequest(ctx, "invalid_credentials", "Login ID or password is incorrect")
		return
	}

	if found.Status != agent.StatusAccepted {
		RespondUnAuthorized(ctx, "not_approved", "This agent has not been approved yet")
		return
	}

	token, err := h.jwt.Issue(found.ID, found.AgencyName, found.Role)

	if err != nil {
		RespondInternal(ctx, "Could not generate token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"role":  found.Role,
		"token": token,
	})
}

func (h *AuthHandler) UpdateAgencyName(ctx *gin.Context) {
	agentID, ok := middlewares.AgentIDFromContext(ctx)

	if !ok || agentID == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity")
		return
	}

	var req UpdateAgencyNameRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	found, err := h.agents.GetByID(cctx, agentID)

	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			// token subject may have been removed after issuance
			RespondBadRequest(ctx, "user_not_found", "No agent matches this token")
			return
		}

		RespondInternal(ctx, "Could not update agency name")
		return
	}

	// approval is re-checked on every mutation, not just at login
	if found.Status != agent.StatusAccepted {
		RespondUnAuthorized(ctx, "not_approved", "This agent has not been approved yet")
		return
	}

	updated, err := h.agentWriter.UpdateAgencyName(cctx, found.ID, req.AgencyName)

	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			RespondBadRequest(ctx, "user_not_found", "No agent matches this token")
			return
		}

		RespondInternal(ctx, "Could not update agency name")
		return
	}

	// Best-effort announcement; a broker failure never rolls back the
	// persisted change or fails the request.
	err = h.notifier.SendAgencyNameChange(cctx, notifications.AgencyNameChangeInput{
		LoginID:    updated.LoginID,
		AgencyName: updated.AgencyName,
	})

	if err != nil {
		h.log.Warn("agency name change publish failed", "loginId", updated.LoginID, "err", err)
	}

	// fresh token carrying the new agency name
	token, err := h.jwt.Issue(updated.ID, updated.AgencyName, updated.Role)

	if err != nil {
		RespondInternal(ctx, "Could not generate token")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"role":  updated.Role,
		"token": token,
	})
}
