package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getourhome/agentservice/internal/config"
	"github.com/getourhome/agentservice/internal/domain/agent"
	"github.com/getourhome/agentservice/internal/utils"
	"github.com/gin-gonic/gin"
)

type ApprovalStore interface {
	UpdateStatus(ctx context.Context, id string, status agent.Status, reason *string) (agent.Agent, error)
	ListByStatus(ctx context.Context, status *agent.Status) ([]agent.Agent, error)
}

// ManagementHandler carries the admin side of the approval workflow.
type ManagementHandler struct {
	store ApprovalStore
}

func NewManagementHandler(store ApprovalStore) *ManagementHandler {
	return &ManagementHandler{store: store}
}

type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *ManagementHandler) Accept(ctx *gin.Context) {
	agentID := ctx.Param("agentId")

	if !utils.IsUUID(agentID) {
		RespondBadRequest(ctx, "invalid_id", "agent id must be a valid UUID")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	// Re-accepting an already accepted agent just re-applies the transition.
	updated, err := h.store.UpdateStatus(cctx, agentID, agent.StatusAccepted, nil)

	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			RespondBadRequest(ctx, "user_not_found", "No agent matches this id")
			return
		}

		RespondInternal(ctx, "Could not accept registration")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("%s registration accepted", updated.LoginID),
	})
}

func (h *ManagementHandler) Reject(ctx *gin.Context) {
	agentID := ctx.Param("agentId")

	if !utils.IsUUID(agentID) {
		RespondBadRequest(ctx, "invalid_id", "agent id must be a valid UUID")
		return
	}

	var req RejectRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	updated, err := h.store.UpdateStatus(cctx, agentID, agent.StatusRejected, &req.Reason)

	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			RespondBadRequest(ctx, "user_not_found", "No agent matches this id")
			return
		}

		RespondInternal(ctx, "Could not reject registration")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("%s registration rejected: %s", updated.LoginID, req.Reason),
	})
}

func (h *ManagementHandler) List(ctx *gin.Context) {
	var status *agent.Status

	if raw := ctx.Query("status"); raw != "" {
		parsed, err := agent.ParseStatus(raw)

		if err != nil {
			RespondBadRequest(ctx, "invalid_status", "status must be one of pending, accepted, rejected")
			return
		}

		status = &parsed
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	agents, err := h.store.ListByStatus(cctx, status)

	if err != nil {
		RespondInternal(ctx, "Could not list registrations")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"count":  len(agents),
		"agents": agents,
	})
}
