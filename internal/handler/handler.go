package handler

import (
	"context"
	"net/http"
	"strconv"

	"adventure-bot/internal/models"
	"adventure-bot/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Commands is the engine surface the HTTP API exposes. *service.Engine implements it.
type Commands interface {
	CreateParty(ctx context.Context, leaderID, adventurerName, backstory string, settings *models.PartySettings) (*models.Party, error)
	JoinParty(ctx context.Context, partyID int64, userID, adventurerName, backstory string) (*models.JoinResult, error)
	LeaveParty(ctx context.Context, partyID int64, requesterID, userID string) (*models.Party, error)
	DisbandParty(ctx context.Context, partyID int64, requesterID string) (*models.Party, error)
	GetPartyStatus(ctx context.Context, partyID int64, userID string) (*models.PartyStatusView, error)
	FindPartyByMember(ctx context.Context, userID string) (*models.Party, error)
	StartAdventure(ctx context.Context, partyID int64, requesterID string, seed service.AdventureSeed) (*models.PartyStatusView, error)
	ResolveDecision(ctx context.Context, partyID int64, userID string, choiceIndex int) (*models.TurnOutcome, error)
}

var _ Commands = (*service.Engine)(nil)

// Handler serves the command API used by the Discord bot process.
type Handler struct {
	commands Commands
	logger   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(commands Commands, logger *zap.Logger) *Handler {
	return &Handler{
		commands: commands,
		logger:   logger.Named("CommandHandler"),
	}
}

// RegisterRoutes mounts the API under /api/v1 behind the given middleware.
func (h *Handler) RegisterRoutes(router gin.IRouter, middleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1", middleware...)
	{
		api.POST("/parties", h.createParty)
		api.GET("/parties/:party_id", h.getPartyStatus)
		api.POST("/parties/:party_id/members", h.joinParty)
		api.DELETE("/parties/:party_id/members/:user_id", h.leaveParty)
		api.POST("/parties/:party_id/disband", h.disbandParty)
		api.POST("/parties/:party_id/adventure", h.startAdventure)
		api.POST("/parties/:party_id/decisions", h.resolveDecision)
		api.GET("/members/:user_id/party", h.findPartyByMember)
	}
}

func partyIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("party_id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Code:    string(models.KindValidation),
			Message: "Invalid party ID format",
		})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Code:    string(models.KindValidation),
			Message: "Invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}
