package models_test

import (
	"fmt"
	"testing"

	"adventure-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartyStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to models.PartyStatus
		want     bool
	}{
		{models.PartyStatusRecruiting, models.PartyStatusActive, true},
		{models.PartyStatusRecruiting, models.PartyStatusDisbanded, true},
		{models.PartyStatusRecruiting, models.PartyStatusCompleted, false},
		{models.PartyStatusActive, models.PartyStatusCompleted, true},
		{models.PartyStatusActive, models.PartyStatusFailed, true},
		{models.PartyStatusActive, models.PartyStatusDisbanded, true},
		{models.PartyStatusActive, models.PartyStatusRecruiting, false},
		{models.PartyStatusCompleted, models.PartyStatusActive, false},
		{models.PartyStatusDisbanded, models.PartyStatusDisbanded, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}

	assert.False(t, models.PartyStatusRecruiting.IsTerminal())
	assert.False(t, models.PartyStatusActive.IsTerminal())
	assert.True(t, models.PartyStatusCompleted.IsTerminal())
	assert.True(t, models.PartyStatusFailed.IsTerminal())
	assert.True(t, models.PartyStatusDisbanded.IsTerminal())
	assert.False(t, models.PartyStatus("PAUSED").Valid())
}

func TestPartySettings(t *testing.T) {
	t.Run("Validate", func(t *testing.T) {
		assert.NoError(t, models.PartySettings{MaxSize: 4, MinPartySize: 2}.Validate())
		assert.ErrorIs(t, models.PartySettings{MaxSize: 0, MinPartySize: 1}.Validate(), models.ErrValidation)
		assert.ErrorIs(t, models.PartySettings{MaxSize: 2, MinPartySize: 3}.Validate(), models.ErrValidation)
		assert.ErrorIs(t, models.PartySettings{MaxSize: 2, MinPartySize: 0}.Validate(), models.ErrValidation)
	})

	t.Run("Encode and decode keep the version tag", func(t *testing.T) {
		in := models.PartySettings{MaxSize: 5, MinPartySize: 2, AutoStartWhenFull: true, Theme: "noir"}
		raw, err := models.EncodePartySettings(in)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"v":1`)

		out, err := models.DecodePartySettings(raw)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("Decode rejects unknown versions and invalid bounds", func(t *testing.T) {
		_, err := models.DecodePartySettings([]byte(`{"v":2,"maxSize":4,"minPartySize":1}`))
		assert.Error(t, err)
		_, err = models.DecodePartySettings([]byte(`{"v":1,"maxSize":1,"minPartySize":3}`))
		assert.ErrorIs(t, err, models.ErrValidation)
		_, err = models.DecodePartySettings([]byte(`nope`))
		assert.Error(t, err)
	})
}

func TestParty_Helpers(t *testing.T) {
	p := &models.Party{
		Settings: models.PartySettings{MaxSize: 2, MinPartySize: 1},
		Members:  []models.PartyMember{{UserID: "al"}},
	}
	assert.False(t, p.IsFull())
	_, ok := p.Member("al")
	assert.True(t, ok)
	_, ok = p.Member("bo")
	assert.False(t, ok)

	c := p.Clone()
	c.Members = append(c.Members, models.PartyMember{UserID: "bo"})
	assert.True(t, c.IsFull())
	assert.Len(t, p.Members, 1)

	var nilParty *models.Party
	assert.Nil(t, nilParty.Clone())
}

func TestNormalize(t *testing.T) {
	name, err := models.NormalizeAdventurerName("  Ayla ")
	require.NoError(t, err)
	assert.Equal(t, "Ayla", name)

	_, err = models.NormalizeAdventurerName(" \t")
	assert.ErrorIs(t, err, models.ErrValidation)

	assert.Nil(t, models.NormalizeBackstory("   "))
	assert.Equal(t, "orphan", *models.NormalizeBackstory(" orphan "))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want models.ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("%w: bad", models.ErrValidation), models.KindValidation},
		{models.ErrNoPendingDecision, models.KindState},
		{models.ErrPartyNotRecruiting, models.KindState},
		{fmt.Errorf("%w: waiting for member 3", models.ErrTurn), models.KindTurn},
		{&models.TimeoutError{Label: "x"}, models.KindOperationTimeout},
		{&models.ConnectionError{Attempts: 2, Err: fmt.Errorf("refused")}, models.KindConnection},
		{fmt.Errorf("%w: empty response", models.ErrGeneratorUnavailable), models.KindGenerator},
		{fmt.Errorf("boom"), models.KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, models.KindOf(tt.err), "%v", tt.err)
	}

	assert.True(t, models.KindTransientStore.Retryable())
	assert.True(t, models.KindOperationTimeout.Retryable())
	assert.True(t, models.KindGenerator.Retryable())
	assert.False(t, models.KindTurn.Retryable())
	assert.False(t, models.KindInternal.Retryable())
}
