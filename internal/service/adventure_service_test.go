package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"adventure-bot/internal/ai"
	"adventure-bot/internal/models"
	"adventure-bot/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// startedParty returns a party of ada plus users with a running adventure.
func (f *fixture) startedParty(t *testing.T, users ...string) (*models.Party, *models.PartyStatusView) {
	t.Helper()
	f.expectOpening()
	party := f.partyOf(t, len(users)+1, users...)
	view, err := f.engine.StartAdventure(context.Background(), party.ID, "ada", service.AdventureSeed{
		Theme:        "dragons",
		PlotSummary:  "Slay the dragon of the pass",
		WinCondition: "The dragon is defeated or befriended",
	})
	require.NoError(t, err)
	return party, view
}

func memberID(t *testing.T, party *models.Party, userID string) int64 {
	t.Helper()
	m, ok := party.Member(userID)
	require.True(t, ok, userID)
	return m.ID
}

func TestStartAdventure(t *testing.T) {
	ctx := context.Background()

	t.Run("First decision belongs to the first-joined member", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, view := f.startedParty(t, "bo")

		assert.Equal(t, models.PartyStatusActive, view.Party.Status)
		assert.Equal(t, models.AdventureStatusActive, view.Adventure.Status)
		assert.Equal(t, "dragons", view.Adventure.Theme)
		assert.Equal(t, "Mountain pass", view.Adventure.CurrentState.Location)
		assert.Equal(t, "Snowstorm", view.Adventure.CurrentState.Environment)
		require.Len(t, view.States, 2)
		for _, st := range view.States {
			assert.Equal(t, models.MaxHealth, st.Health)
			assert.Equal(t, models.AdventurerActive, st.Status)
		}
		require.NotNil(t, view.PendingDecision)
		assert.Equal(t, memberID(t, party, "ada"), view.PendingDecision.PartyMemberID)
		assert.Equal(t, []string{"Fight", "Sneak past", "Negotiate"}, view.PendingDecision.Choices)
		assert.True(t, view.YourTurn)
		assert.True(t, f.published(t, models.EventAdventureStarted))

		f.generator.AssertCalled(t, "GenerateTurn", mock.Anything, mock.MatchedBy(func(turn models.TurnContext) bool {
			return turn.Opening && turn.Actor != nil && turn.Actor.AdventurerName == "Ada" && len(turn.Party) == 2
		}))

		_, err := f.engine.ResolveDecision(ctx, party.ID, "bo", 0)
		assert.ErrorIs(t, err, models.ErrTurn)
		assert.Equal(t, models.KindTurn, models.KindOf(err))
	})

	t.Run("Theme falls back to party settings then config", func(t *testing.T) {
		f := newFixture(t, service.Config{DefaultTheme: "space opera"})
		f.expectOpening()
		party := f.partyOf(t, 2)

		view, err := f.engine.StartAdventure(ctx, party.ID, "ada", service.AdventureSeed{})
		require.NoError(t, err)
		assert.Equal(t, "space opera", view.Adventure.Theme)
	})

	t.Run("Leader only", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party := f.partyOf(t, 3, "bo")

		_, err := f.engine.StartAdventure(ctx, party.ID, "bo", service.AdventureSeed{})
		assert.ErrorIs(t, err, models.ErrForbidden)
		f.generator.AssertNotCalled(t, "GenerateTurn", mock.Anything, mock.Anything)
	})

	t.Run("Needs the minimum party size", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, err := f.engine.CreateParty(ctx, "ada", "Ada", "", &models.PartySettings{MaxSize: 4, MinPartySize: 2})
		require.NoError(t, err)

		_, err = f.engine.StartAdventure(ctx, party.ID, "ada", service.AdventureSeed{})
		assert.ErrorIs(t, err, models.ErrState)
	})

	t.Run("Only once", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t, "bo")

		_, err := f.engine.StartAdventure(ctx, party.ID, "ada", service.AdventureSeed{})
		assert.ErrorIs(t, err, models.ErrState)
	})

	t.Run("Malformed opening leaves the party recruiting", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		bad := openingResult()
		bad.IsEnding = nil
		f.generator.On("GenerateTurn", mock.Anything, mock.MatchedBy(isOpening)).Return(bad, nil)
		party := f.partyOf(t, 2, "bo")

		_, err := f.engine.StartAdventure(ctx, party.ID, "ada", service.AdventureSeed{})
		assert.ErrorIs(t, err, models.ErrMalformedContent)

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "ada")
		require.NoError(t, err)
		assert.Equal(t, models.PartyStatusRecruiting, status.Party.Status)
		assert.Nil(t, status.Adventure)
	})

	t.Run("Opening needs a location", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		bad := openingResult()
		bad.Location = " "
		f.generator.On("GenerateTurn", mock.Anything, mock.MatchedBy(isOpening)).Return(bad, nil)
		party := f.partyOf(t, 2)

		_, err := f.engine.StartAdventure(ctx, party.ID, "ada", service.AdventureSeed{})
		assert.ErrorIs(t, err, models.ErrMalformedContent)
	})
}

func TestResolveDecision(t *testing.T) {
	ctx := context.Background()

	t.Run("Turn passes round robin", func(t *testing.T) {
		f := newFixture(t, service.Config{RecentDecisions: 3})
		party, _ := f.startedParty(t, "bo", "cy")
		next := continueResult("The dragon roars and retreats.")
		next.Location = "Dragon's lair"
		next.StateDeltas = []models.StateDelta{{PartyMemberID: memberID(t, party, "ada"), Health: intPtr(70), Conditions: []string{"singed"}}}
		f.expectTurn(next)

		outcome, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 1)
		require.NoError(t, err)
		assert.False(t, outcome.Ended)
		assert.Equal(t, models.PartyStatusActive, outcome.PartyStatus)
		require.NotNil(t, outcome.Resolved.ChoiceMade)
		assert.Equal(t, "Sneak past", *outcome.Resolved.ChoiceMade)
		require.NotNil(t, outcome.Next)
		assert.Equal(t, memberID(t, party, "bo"), outcome.Next.PartyMemberID)
		assert.Equal(t, "Dragon's lair", outcome.Adventure.CurrentState.Location)
		assert.Equal(t, "Snowstorm", outcome.Adventure.CurrentState.Environment)
		assert.Equal(t, []string{"The dragon roars and retreats."}, outcome.Adventure.CurrentState.RecentEvents)
		assert.Equal(t, 70, outcome.States[0].Health)
		assert.Equal(t, []string{"singed"}, outcome.States[0].Conditions)
		assert.True(t, f.published(t, models.EventAdventureTurn))

		f.generator.AssertCalled(t, "GenerateTurn", mock.Anything, mock.MatchedBy(func(turn models.TurnContext) bool {
			return !turn.Opening && turn.Choice == "Sneak past" && turn.Situation == "A dragon blocks the mountain pass." && turn.Actor != nil
		}))

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "bo")
		require.NoError(t, err)
		assert.True(t, status.YourTurn)
		require.Len(t, status.RecentDecisions, 1)
		require.NotNil(t, status.RecentDecisions[0].Consequence)
		assert.Equal(t, "The dragon roars and retreats.", status.RecentDecisions[0].Consequence.Narrative)

		status, err = f.engine.GetPartyStatus(ctx, party.ID, "ada")
		require.NoError(t, err)
		assert.False(t, status.YourTurn)
	})

	t.Run("Addressed by adventure and member id", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, view := f.startedParty(t, "bo")
		f.expectTurn(continueResult("Onwards."))

		outcome, err := f.adventures.ResolveDecision(ctx, view.Adventure.ID, memberID(t, party, "ada"), 0)
		require.NoError(t, err)
		assert.Equal(t, memberID(t, party, "bo"), outcome.Next.PartyMemberID)

		_, err = f.adventures.ResolveDecision(ctx, view.Adventure.ID, memberID(t, party, "ada"), 0)
		assert.ErrorIs(t, err, models.ErrTurn)
	})

	t.Run("Choice out of range", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t)

		for _, choice := range []int{-1, 3} {
			_, err := f.engine.ResolveDecision(ctx, party.ID, "ada", choice)
			assert.ErrorIs(t, err, models.ErrValidation)
		}
		f.generator.AssertNumberOfCalls(t, "GenerateTurn", 1)
	})

	t.Run("Outsiders are rejected", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t)

		_, err := f.engine.ResolveDecision(ctx, party.ID, "zed", 0)
		assert.ErrorIs(t, err, models.ErrForbidden)
	})

	t.Run("No adventure in progress", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party := f.partyOf(t, 2)

		_, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		assert.ErrorIs(t, err, models.ErrAdventureNotActive)
	})

	t.Run("Defeat fails the adventure and the party", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t, "bo")
		f.expectTurn(endingResult(models.EndTypeDefeat))

		outcome, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		require.NoError(t, err)
		assert.True(t, outcome.Ended)
		assert.Equal(t, models.EndTypeDefeat, outcome.EndType)
		assert.Nil(t, outcome.Next)
		assert.Equal(t, models.AdventureStatusFailed, outcome.Adventure.Status)
		assert.Equal(t, models.PartyStatusFailed, outcome.PartyStatus)
		assert.True(t, f.published(t, models.EventAdventureEnded))

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "ada")
		require.NoError(t, err)
		assert.Equal(t, models.PartyStatusFailed, status.Party.Status)
		assert.False(t, status.Party.IsActive)
		assert.Len(t, status.Party.Members, 2)
		assert.Equal(t, models.AdventureStatusFailed, status.Adventure.Status)
		assert.Nil(t, status.PendingDecision)
		require.Len(t, status.RecentDecisions, 1)
		require.NotNil(t, status.RecentDecisions[0].Consequence.EndType)
		assert.Equal(t, models.EndTypeDefeat, *status.RecentDecisions[0].Consequence.EndType)

		_, err = f.engine.ResolveDecision(ctx, party.ID, "bo", 0)
		assert.ErrorIs(t, err, models.ErrAdventureNotActive)
		_, err = f.engine.DisbandParty(ctx, party.ID, "ada")
		assert.ErrorIs(t, err, models.ErrState)

		// Seats are released with the ending.
		_, err = f.engine.FindPartyByMember(ctx, "bo")
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = f.engine.CreateParty(ctx, "bo", "Bo", "", nil)
		assert.NoError(t, err)
	})

	t.Run("Victory and partial complete the party", func(t *testing.T) {
		for _, end := range []models.EndType{models.EndTypeVictory, models.EndTypePartial} {
			t.Run(string(end), func(t *testing.T) {
				f := newFixture(t, service.Config{})
				party, _ := f.startedParty(t)
				f.expectTurn(endingResult(end))

				outcome, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
				require.NoError(t, err)
				assert.Equal(t, models.AdventureStatusCompleted, outcome.Adventure.Status)
				assert.NotNil(t, outcome.Adventure.CompletedAt)
				assert.Equal(t, models.PartyStatusCompleted, outcome.PartyStatus)
			})
		}
	})

	t.Run("Dead members lose their turns", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t, "bo", "cy")
		killBo := continueResult("A boulder crushes Bo.")
		killBo.StateDeltas = []models.StateDelta{{PartyMemberID: memberID(t, party, "bo"), Health: intPtr(-20)}}
		f.expectTurn(killBo)
		f.expectTurn(continueResult("Cy presses on."))

		outcome, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		require.NoError(t, err)
		assert.Equal(t, memberID(t, party, "cy"), outcome.Next.PartyMemberID)
		assert.Equal(t, 0, outcome.States[1].Health)
		assert.Equal(t, models.AdventurerDead, outcome.States[1].Status)

		outcome, err = f.engine.ResolveDecision(ctx, party.ID, "cy", 0)
		require.NoError(t, err)
		assert.Equal(t, memberID(t, party, "ada"), outcome.Next.PartyMemberID)

		_, err = f.engine.ResolveDecision(ctx, party.ID, "bo", 0)
		assert.ErrorIs(t, err, models.ErrTurn)
	})

	t.Run("Nobody left standing forces a defeat", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t, "bo")
		wipe := continueResult("The avalanche buries everyone.")
		wipe.StateDeltas = []models.StateDelta{
			{PartyMemberID: memberID(t, party, "ada"), Status: statusPtr(models.AdventurerIncapacitated)},
			{PartyMemberID: memberID(t, party, "bo"), Health: intPtr(0)},
		}
		f.expectTurn(wipe)

		outcome, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		require.NoError(t, err)
		assert.True(t, outcome.Ended)
		assert.Equal(t, models.EndTypeDefeat, outcome.EndType)
		assert.Equal(t, models.PartyStatusFailed, outcome.PartyStatus)
		require.NotNil(t, outcome.Resolved.Consequence.EndType)
		assert.Equal(t, models.EndTypeDefeat, *outcome.Resolved.Consequence.EndType)
	})

	t.Run("Malformed turn result changes nothing", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, view := f.startedParty(t, "bo")
		bad := continueResult("Something happens.")
		bad.StateDeltas = []models.StateDelta{{PartyMemberID: 9999, Health: intPtr(1)}}
		f.expectTurn(bad)
		noEnd := continueResult("Something else.")
		noEnd.IsEnding = boolPtr(true)
		f.expectTurn(noEnd)

		_, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		assert.ErrorIs(t, err, models.ErrMalformedContent)
		_, err = f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		assert.ErrorIs(t, err, models.ErrMalformedContent)

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "ada")
		require.NoError(t, err)
		require.NotNil(t, status.PendingDecision)
		assert.Equal(t, view.PendingDecision.ID, status.PendingDecision.ID)
		assert.True(t, status.YourTurn)
		assert.Empty(t, status.RecentDecisions)
	})

	t.Run("Generator timeout is retryable and keeps the turn", func(t *testing.T) {
		f := newFixture(t, service.Config{GenerateTimeout: 20 * time.Millisecond})
		party, _ := f.startedParty(t, "bo")
		f.generator.On("GenerateTurn", mock.Anything, mock.MatchedBy(isTurn)).
			After(500*time.Millisecond).
			Return(continueResult("Too late."), nil).Once()

		_, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		require.ErrorIs(t, err, models.ErrOperationTimeout)
		assert.True(t, models.KindOf(err).Retryable())

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "ada")
		require.NoError(t, err)
		assert.True(t, status.YourTurn)
	})

	t.Run("Unreachable generator is retryable", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t, "bo")
		f.generator.On("GenerateTurn", mock.Anything, mock.MatchedBy(isTurn)).
			Return(nil, fmt.Errorf("%w: connection reset", ai.ErrGenerationFailed)).Once()

		_, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		require.ErrorIs(t, err, ai.ErrGenerationFailed)
		assert.Equal(t, models.KindGenerator, models.KindOf(err))
		assert.True(t, models.KindOf(err).Retryable())

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "ada")
		require.NoError(t, err)
		assert.True(t, status.YourTurn)
	})

	t.Run("Generator failure rolls back", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t, "bo")
		f.generator.On("GenerateTurn", mock.Anything, mock.MatchedBy(isTurn)).Return(nil, fmt.Errorf("upstream 503")).Once()

		_, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
		require.Error(t, err)
		assert.Equal(t, models.KindInternal, models.KindOf(err))

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "ada")
		require.NoError(t, err)
		assert.True(t, status.YourTurn)
	})

	t.Run("Concurrent resolves mutate once", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t, "bo")
		f.expectTurn(continueResult("Only once."))

		const callers = 5
		var wg sync.WaitGroup
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, models.KindOf(err) == models.KindTurn || models.KindOf(err) == models.KindState, err)
		}
		assert.Equal(t, 1, succeeded)

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "bo")
		require.NoError(t, err)
		assert.True(t, status.YourTurn)
		assert.Len(t, status.RecentDecisions, 1)
	})

	t.Run("Recent events are bounded", func(t *testing.T) {
		f := newFixture(t, service.Config{RecentEvents: 3})
		party, _ := f.startedParty(t)
		for i := 0; i < 5; i++ {
			f.expectTurn(continueResult(fmt.Sprintf("event %d", i)))
			_, err := f.engine.ResolveDecision(ctx, party.ID, "ada", 0)
			require.NoError(t, err)
		}

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "ada")
		require.NoError(t, err)
		assert.Equal(t, []string{"event 4", "event 3", "event 2"}, status.Adventure.CurrentState.RecentEvents)
	})
}

func TestGetPartyStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Recruiting party has no adventure", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party := f.partyOf(t, 3, "bo")

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "bo")
		require.NoError(t, err)
		assert.Len(t, status.Party.Members, 2)
		assert.Nil(t, status.Adventure)
		assert.False(t, status.YourTurn)
	})

	t.Run("Non-members can look but never have the turn", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		party, _ := f.startedParty(t)

		status, err := f.engine.GetPartyStatus(ctx, party.ID, "zed")
		require.NoError(t, err)
		assert.NotNil(t, status.PendingDecision)
		assert.False(t, status.YourTurn)
	})

	t.Run("Unknown party", func(t *testing.T) {
		f := newFixture(t, service.Config{})
		_, err := f.engine.GetPartyStatus(ctx, 42, "ada")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
