package handler

import (
	"net/http"

	"adventure-bot/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) startAdventure(c *gin.Context) {
	partyID, ok := partyIDParam(c)
	if !ok {
		return
	}
	var req startAdventureRequest
	if !bindJSON(c, &req) {
		return
	}
	seed := service.AdventureSeed{
		Theme:        req.Theme,
		PlotSummary:  req.PlotSummary,
		WinCondition: req.WinCondition,
	}
	view, err := h.commands.StartAdventure(c.Request.Context(), partyID, req.RequesterID, seed)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.logger.Info("Adventure started", zap.Int64("party_id", partyID), zap.Int64("adventure_id", view.Adventure.ID))
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) resolveDecision(c *gin.Context) {
	partyID, ok := partyIDParam(c)
	if !ok {
		return
	}
	var req resolveDecisionRequest
	if !bindJSON(c, &req) {
		return
	}
	outcome, err := h.commands.ResolveDecision(c.Request.Context(), partyID, req.UserID, *req.ChoiceIndex)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
