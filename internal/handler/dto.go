package handler

import "adventure-bot/internal/models"

type createPartyRequest struct {
	LeaderID       string                `json:"leaderId" binding:"required"`
	AdventurerName string                `json:"adventurerName" binding:"required"`
	Backstory      string                `json:"backstory"`
	Settings       *models.PartySettings `json:"settings"`
}

type joinPartyRequest struct {
	UserID         string `json:"userId" binding:"required"`
	AdventurerName string `json:"adventurerName" binding:"required"`
	Backstory      string `json:"backstory"`
}

type requesterRequest struct {
	RequesterID string `json:"requesterId" binding:"required"`
}

type startAdventureRequest struct {
	RequesterID  string `json:"requesterId" binding:"required"`
	Theme        string `json:"theme"`
	PlotSummary  string `json:"plotSummary"`
	WinCondition string `json:"winCondition"`
}

// ChoiceIndex is a pointer so that a missing field is rejected rather than read as 0.
type resolveDecisionRequest struct {
	UserID      string `json:"userId" binding:"required"`
	ChoiceIndex *int   `json:"choiceIndex" binding:"required"`
}
