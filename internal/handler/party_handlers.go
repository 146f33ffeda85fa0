package handler

import (
	"net/http"

	"adventure-bot/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) createParty(c *gin.Context) {
	var req createPartyRequest
	if !bindJSON(c, &req) {
		return
	}
	party, err := h.commands.CreateParty(c.Request.Context(), req.LeaderID, req.AdventurerName, req.Backstory, req.Settings)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.logger.Info("Party created", zap.Int64("party_id", party.ID), zap.String("leader_id", party.LeaderID))
	c.JSON(http.StatusCreated, party)
}

func (h *Handler) joinParty(c *gin.Context) {
	partyID, ok := partyIDParam(c)
	if !ok {
		return
	}
	var req joinPartyRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.commands.JoinParty(c.Request.Context(), partyID, req.UserID, req.AdventurerName, req.Backstory)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// leaveParty removes the user in the path. requesterId defaults to that user, so a
// member leaving needs no query; a leader kicking someone passes their own id.
func (h *Handler) leaveParty(c *gin.Context) {
	partyID, ok := partyIDParam(c)
	if !ok {
		return
	}
	userID := c.Param("user_id")
	requesterID := c.DefaultQuery("requesterId", userID)
	party, err := h.commands.LeaveParty(c.Request.Context(), partyID, requesterID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, party)
}

func (h *Handler) disbandParty(c *gin.Context) {
	partyID, ok := partyIDParam(c)
	if !ok {
		return
	}
	var req requesterRequest
	if !bindJSON(c, &req) {
		return
	}
	party, err := h.commands.DisbandParty(c.Request.Context(), partyID, req.RequesterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, party)
}

func (h *Handler) getPartyStatus(c *gin.Context) {
	partyID, ok := partyIDParam(c)
	if !ok {
		return
	}
	view, err := h.commands.GetPartyStatus(c.Request.Context(), partyID, c.Query("userId"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) findPartyByMember(c *gin.Context) {
	party, err := h.commands.FindPartyByMember(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	if party == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
			Code:    string(models.KindNotFound),
			Message: "User is not in a party",
		})
		return
	}
	c.JSON(http.StatusOK, party)
}
