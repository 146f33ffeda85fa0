package service_test

import (
	"context"
	"testing"
	"time"

	"adventure-bot/internal/cache"
	"adventure-bot/internal/interfaces/mocks"
	"adventure-bot/internal/models"
	"adventure-bot/internal/service"
	"adventure-bot/internal/testutil/memstore"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memstore.Store
	cache      *cache.Memory
	generator  *mocks.ContentGenerator
	events     *mocks.EventPublisher
	parties    service.PartyService
	adventures service.AdventureService
	engine     *service.Engine
}

func newFixture(t *testing.T, cfg service.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     memstore.New(),
		cache:     cache.NewMemory(64, time.Minute, zap.NewNop(), nil),
		generator: new(mocks.ContentGenerator),
		events:    new(mocks.EventPublisher),
	}
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	deps := service.Deps{
		Tx:     f.store,
		Repos:  f.store.Repositories(),
		Cache:  f.cache,
		Events: f.events,
		Logger: zap.NewNop(),
		Now:    func() time.Time { return fixedNow },
	}
	f.parties = service.NewPartyService(deps, cfg)
	f.adventures = service.NewAdventureService(deps, cfg, f.generator, nil, nil)
	f.engine = service.NewEngine(f.parties, f.adventures, zap.NewNop())
	return f
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func endPtr(e models.EndType) *models.EndType { return &e }

func statusPtr(s models.AdventurerStatus) *models.AdventurerStatus { return &s }

func openingResult() *models.TurnResult {
	return &models.TurnResult{
		NextSituation: "A dragon blocks the mountain pass.",
		NextChoices:   []string{"Fight", "Sneak past", "Negotiate"},
		Location:      "Mountain pass",
		Environment:   "Snowstorm",
		IsEnding:      boolPtr(false),
	}
}

func continueResult(consequence string) *models.TurnResult {
	return &models.TurnResult{
		Consequence:   consequence,
		NextSituation: "The path forks.",
		NextChoices:   []string{"Left", "Right"},
		IsEnding:      boolPtr(false),
	}
}

func endingResult(end models.EndType) *models.TurnResult {
	return &models.TurnResult{
		Consequence: "It is over.",
		IsEnding:    boolPtr(true),
		EndType:     endPtr(end),
	}
}

func isOpening(turn models.TurnContext) bool { return turn.Opening }
func isTurn(turn models.TurnContext) bool    { return !turn.Opening }

func (f *fixture) expectOpening() {
	f.generator.On("GenerateTurn", mock.Anything, mock.MatchedBy(isOpening)).Return(openingResult(), nil)
}

// expectTurn makes the next non-opening generator call return result.
func (f *fixture) expectTurn(result *models.TurnResult) {
	f.generator.On("GenerateTurn", mock.Anything, mock.MatchedBy(isTurn)).Return(result, nil).Once()
}

// partyOf creates a party led by "ada" with the given extra members.
func (f *fixture) partyOf(t *testing.T, maxSize int, users ...string) *models.Party {
	t.Helper()
	ctx := context.Background()
	party, err := f.engine.CreateParty(ctx, "ada", "Ada", "A wandering scholar", &models.PartySettings{MaxSize: maxSize, MinPartySize: 1})
	require.NoError(t, err)
	for _, u := range users {
		_, err := f.engine.JoinParty(ctx, party.ID, u, "Adventurer "+u, "")
		require.NoError(t, err)
	}
	party, err = f.parties.GetParty(ctx, party.ID)
	require.NoError(t, err)
	return party
}

func (f *fixture) published(t *testing.T, eventType models.EventType) bool {
	t.Helper()
	for _, call := range f.events.Calls {
		if call.Method != "Publish" {
			continue
		}
		if ev, ok := call.Arguments.Get(1).(models.Event); ok && ev.Type == eventType {
			return true
		}
	}
	return false
}
