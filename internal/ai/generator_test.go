package ai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"adventure-bot/internal/ai"
	"adventure-bot/internal/metrics"
	"adventure-bot/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type chatRequest struct {
	Model          string `json:"model"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// completionServer answers every chat completion with content and records the last request.
func completionServer(t *testing.T, status int, content string, last *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if last != nil {
			require.NoError(t, json.Unmarshal(body, last))
		}

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 80, "total_tokens": 200},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGenerator(srv *httptest.Server, m *metrics.Collectors) *ai.Generator {
	return ai.NewGenerator(ai.Config{
		APIKey:            "test-key",
		BaseURL:           srv.URL + "/v1/",
		Model:             "test-model",
		SkipTokenEstimate: true,
	}, zap.NewNop(), m)
}

func sampleTurn() models.TurnContext {
	actor := models.MemberStatus{PartyMemberID: 7, AdventurerName: "Ayla", Health: 100, Status: models.AdventurerActive}
	return models.TurnContext{
		Theme:     "heist",
		State:     models.AdventureState{Location: "Vault"},
		Party:     []models.MemberStatus{actor},
		Actor:     &actor,
		Situation: "A guard approaches.",
		Choice:    "Bribe",
	}
}

func TestGenerator_GenerateTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("Parses a JSON answer", func(t *testing.T) {
		var req chatRequest
		srv := completionServer(t, http.StatusOK, `{
			"consequence": "The guard pockets the coin.",
			"stateDeltas": [{"partyMemberId": 7, "inventory": []}],
			"nextSituation": "The vault door creaks.",
			"nextChoices": ["Enter", "Wait"],
			"isEnding": false,
			"endType": null
		}`, &req)
		m := metrics.New(nil)
		g := newTestGenerator(srv, m)

		res, err := g.GenerateTurn(ctx, sampleTurn())
		require.NoError(t, err)
		assert.Equal(t, "The guard pockets the coin.", res.Consequence)
		assert.Equal(t, []string{"Enter", "Wait"}, res.NextChoices)
		require.NotNil(t, res.IsEnding)
		assert.False(t, *res.IsEnding)
		assert.Nil(t, res.EndType)
		require.Len(t, res.StateDeltas, 1)
		assert.Equal(t, int64(7), res.StateDeltas[0].PartyMemberID)

		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		var sent models.TurnContext
		require.NoError(t, json.Unmarshal([]byte(req.Messages[1].Content), &sent))
		assert.Equal(t, "Bribe", sent.Choice)
		assert.Equal(t, "Vault", sent.State.Location)

		assert.Equal(t, float64(1), testutil.ToFloat64(m.GeneratorRequests.WithLabelValues("test-model", "success")))
	})

	t.Run("Malformed answer", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK, "Once upon a time...", nil)
		m := metrics.New(nil)
		g := newTestGenerator(srv, m)

		_, err := g.GenerateTurn(ctx, sampleTurn())
		assert.ErrorIs(t, err, models.ErrMalformedContent)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.GeneratorRequests.WithLabelValues("test-model", "malformed")))
	})

	t.Run("Empty answer", func(t *testing.T) {
		srv := completionServer(t, http.StatusOK, "  ", nil)
		g := newTestGenerator(srv, nil)

		_, err := g.GenerateTurn(ctx, sampleTurn())
		assert.ErrorIs(t, err, ai.ErrGenerationFailed)
	})

	t.Run("Upstream error", func(t *testing.T) {
		srv := completionServer(t, http.StatusServiceUnavailable, "", nil)
		m := metrics.New(nil)
		g := newTestGenerator(srv, m)

		_, err := g.GenerateTurn(ctx, sampleTurn())
		assert.ErrorIs(t, err, ai.ErrGenerationFailed)
		assert.Equal(t, models.KindGenerator, models.KindOf(err))
		assert.True(t, models.KindOf(err).Retryable())
		assert.Equal(t, float64(1), testutil.ToFloat64(m.GeneratorRequests.WithLabelValues("test-model", "error")))
	})
}

func TestParseTurnResult(t *testing.T) {
	t.Run("Strips code fences", func(t *testing.T) {
		res, err := ai.ParseTurnResult("```json\n{\"consequence\":\"ok\",\"isEnding\":true,\"endType\":\"VICTORY\"}\n```")
		require.NoError(t, err)
		ending, endType := res.Ending()
		assert.True(t, ending)
		assert.Equal(t, models.EndTypeVictory, endType)
	})

	t.Run("Keeps a missing isEnding distinguishable", func(t *testing.T) {
		res, err := ai.ParseTurnResult(`{"consequence":"ok","nextSituation":"s","nextChoices":["a"]}`)
		require.NoError(t, err)
		assert.Nil(t, res.IsEnding)
		assert.ErrorIs(t, res.Validate(map[int64]bool{}, false), models.ErrMalformedContent)
	})

	t.Run("Rejects non-JSON", func(t *testing.T) {
		_, err := ai.ParseTurnResult("not json")
		assert.ErrorIs(t, err, models.ErrMalformedContent)
	})
}
