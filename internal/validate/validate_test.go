// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litfunnel/internal/llm"
	"github.com/pdiddy/litfunnel/pkg/types"
)

func reply(text string, err error) llm.ProviderFunc {
	return func(context.Context, llm.Request) (string, error) { return text, err }
}

// candidates returns n papers with descending similarity.
func candidates(n int) []types.Paper {
	out := make([]types.Paper, n)
	for i := range out {
		out[i] = types.Paper{
			ID:         fmt.Sprintf("p%d", i),
			Title:      fmt.Sprintf("Paper %d", i),
			Abstract:   "Abstract text",
			Similarity: 1 - float64(i)/100,
		}
	}
	return out
}

func ids(papers []types.Paper) []string {
	out := make([]string, len(papers))
	for i, p := range papers {
		out[i] = p.ID
	}
	return out
}

func TestValidate_KeepsIndicesInSimilarityOrder(t *testing.T) {
	c := candidates(8)
	got, outcome := New(reply(`[5, 1, 3, 1, 0]`, nil)).Validate(context.Background(), "q", c, 6)
	assert.Equal(t, OutcomeValidated, outcome)
	assert.Equal(t, []string{"p0", "p1", "p3", "p5"}, ids(got))
}

func TestValidate_WrappedObject(t *testing.T) {
	c := candidates(6)
	got, outcome := New(reply("```json\n{\"relevant\": [0, 2, 4]}\n```", nil)).Validate(context.Background(), "q", c, 4)
	assert.Equal(t, OutcomeValidated, outcome)
	assert.Equal(t, []string{"p0", "p2", "p4"}, ids(got))
}

func TestValidate_IgnoresInvalidIndices(t *testing.T) {
	c := candidates(4)
	got, outcome := New(reply(`[0, -1, 9, 1.5, "2", null, 3]`, nil)).Validate(context.Background(), "q", c, 4)
	assert.Equal(t, OutcomeValidated, outcome)
	assert.Equal(t, []string{"p0", "p3"}, ids(got))
}

func TestValidate_FractionalIndicesDropped(t *testing.T) {
	c := candidates(6)
	got, outcome := New(reply(`[5.0, 4.7, 3]`, nil)).Validate(context.Background(), "q", c, 4)
	assert.Equal(t, OutcomeValidated, outcome)
	assert.Equal(t, []string{"p3", "p5"}, ids(got), "4.7 is not truncated to 4")
}

func TestValidate_TruncatesToMaxPapers(t *testing.T) {
	c := candidates(10)
	got, outcome := New(reply(`[0,1,2,3,4,5,6,7]`, nil)).Validate(context.Background(), "q", c, 5)
	assert.Equal(t, OutcomeValidated, outcome)
	assert.Len(t, got, 5)
}

func TestValidate_FallbackTooFew(t *testing.T) {
	c := candidates(15)
	tests := []struct {
		name  string
		reply string
	}{
		{"below half", `[0, 3, 7, 9]`},
		{"empty array", `[]`},
		{"all out of range", `[20, 21, 22, 23, 24, 25]`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, outcome := New(reply(tt.reply, nil)).Validate(context.Background(), "q", c, 10)
			assert.Equal(t, OutcomeFallbackTooFew, outcome)
			assert.Equal(t, ids(c[:10]), ids(got))
		})
	}
}

func TestValidate_ThresholdBoundary(t *testing.T) {
	c := candidates(12)
	got, outcome := New(reply(`[1, 3, 5, 7, 9]`, nil)).Validate(context.Background(), "q", c, 10)
	assert.Equal(t, OutcomeValidated, outcome, "exactly half is enough")
	assert.Equal(t, []string{"p1", "p3", "p5", "p7", "p9"}, ids(got))

	got, outcome = New(reply(`[1, 3]`, nil)).Validate(context.Background(), "q", candidates(6), 5)
	assert.Equal(t, OutcomeValidated, outcome, "floor(5 * 0.5) = 2")
	assert.Len(t, got, 2)
}

func TestValidate_MinRatioOption(t *testing.T) {
	c := candidates(10)
	_, outcome := New(reply(`[0, 1, 2]`, nil), WithMinRatio(0.8)).Validate(context.Background(), "q", c, 5)
	assert.Equal(t, OutcomeFallbackTooFew, outcome)
}

func TestValidate_FallbackError(t *testing.T) {
	c := candidates(12)
	tests := []struct {
		name     string
		provider llm.Provider
	}{
		{"nil provider", nil},
		{"provider error", reply("", errors.New("rate limited"))},
		{"empty text", reply("", nil)},
		{"prose", reply("These papers all look relevant.", nil)},
		{"multi-key object", reply(`{"a": [0, 1], "b": [2]}`, nil)},
		{"object without list", reply(`{"relevant": "0,1,2"}`, nil)},
		{"scalar", reply(`3`, nil)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, outcome := New(tt.provider).Validate(context.Background(), "q", c, 10)
			assert.Equal(t, OutcomeFallbackError, outcome)
			assert.Equal(t, ids(c[:10]), ids(got))
		})
	}
}

func TestValidate_Empty(t *testing.T) {
	called := false
	p := llm.ProviderFunc(func(context.Context, llm.Request) (string, error) {
		called = true
		return "[]", nil
	})
	got, outcome := New(p).Validate(context.Background(), "q", nil, 10)
	assert.Equal(t, OutcomeEmpty, outcome)
	assert.Empty(t, got)
	assert.False(t, called)
}

func TestValidate_DoesNotAliasInput(t *testing.T) {
	c := candidates(4)
	got, _ := New(nil).Validate(context.Background(), "q", c, 4)
	got[0].Title = "changed"
	assert.Equal(t, "Paper 0", c[0].Title)
}

func TestValidate_Request(t *testing.T) {
	var got llm.Request
	p := llm.ProviderFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		return "[0]", nil
	})

	query := strings.Repeat("q", 400)
	c := []types.Paper{{Title: "Sepsis in neonates", Abstract: strings.Repeat("a", 250)}}
	New(p).Validate(context.Background(), query, c, 1)

	assert.True(t, got.JSON)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	assert.Equal(t, 500, got.MaxTokens)
	require.True(t, strings.HasPrefix(got.Prompt, "Output ONLY a JSON array of relevant paper indices."))
	assert.Contains(t, got.Prompt, "Query: "+strings.Repeat("q", 300)+"\n")
	assert.NotContains(t, got.Prompt, strings.Repeat("q", 301))
	assert.Contains(t, got.Prompt, "0. Title: Sepsis in neonates\n   Abstract: "+strings.Repeat("a", 200)+"...")
	assert.NotContains(t, got.Prompt, strings.Repeat("a", 201))
}
