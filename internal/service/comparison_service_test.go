package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"procurehub/internal/model"
	"procurehub/internal/oracle"
)

func comparisonOutput(responderID string) string {
	return fmt.Sprintf(`{
		"analyses": [{
			"responder_id": %q,
			"responder_name": "Acme",
			"price_score": 8, "delivery_score": 7, "terms_score": 9, "completeness_score": 8,
			"total_score": 8,
			"strengths": ["cheap"], "weaknesses": ["slow"], "red_flags": []
		}],
		"recommendation": {"responder_id": %q, "responder_name": "Acme", "reasoning": "best price", "confidence": 0.9},
		"summary": "Acme offers the best value."
	}`, responderID, responderID)
}

func seedComparison(t *testing.T) (*fakeRequestStore, *fakeResponderStore, *fakeProposalStore, *model.Request, *model.Responder) {
	t.Helper()

	requests := newFakeRequestStore()
	req := &model.Request{ID: uuid.New(), Status: model.RequestStatusCollecting, OriginText: "laptops"}
	require.NoError(t, requests.Create(context.Background(), req))

	responder := &model.Responder{ID: uuid.New(), Email: "sales@acme.com", Name: "Acme"}
	responders := newFakeResponderStore(responder)

	proposals := newFakeProposalStore()
	_, created, err := proposals.CreateIfAbsent(context.Background(), &model.Proposal{
		RequestID:   req.ID,
		ResponderID: responder.ID,
		RawBody:     "we quote 27500 total",
		Status:      model.ProposalStatusReceived,
	})
	require.NoError(t, err)
	require.True(t, created)

	return requests, responders, proposals, req, responder
}

func TestCompareSuccess(t *testing.T) {
	requests, responders, proposals, req, responder := seedComparison(t)

	orc := newFakeOracle()
	orc.outputs["compare_proposals"] = json.RawMessage(comparisonOutput(responder.ID.String()))
	svc := NewComparisonService(requests, responders, proposals, orc, zap.NewNop())

	comparison, records, err := svc.Compare(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, comparison.Analyses, 1)
	assert.Equal(t, responder.ID.String(), comparison.Recommendation.ResponderID)
	assert.Equal(t, 0.9, comparison.Recommendation.Confidence)
	assert.Equal(t, []string{"cheap"}, comparison.Analyses[0].Strengths)

	// 未解析的提案以原文进入提示词
	assert.Contains(t, orc.prompts["compare_proposals"], "we quote 27500 total")
}

func TestCompareUnknownRequest(t *testing.T) {
	svc := NewComparisonService(newFakeRequestStore(), newFakeResponderStore(), newFakeProposalStore(), newFakeOracle(), zap.NewNop())

	_, _, err := svc.Compare(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompareNoProposalsYet(t *testing.T) {
	requests := newFakeRequestStore()
	req := &model.Request{ID: uuid.New(), Status: model.RequestStatusDispatched}
	require.NoError(t, requests.Create(context.Background(), req))

	svc := NewComparisonService(requests, newFakeResponderStore(), newFakeProposalStore(), newFakeOracle(), zap.NewNop())

	_, _, err := svc.Compare(context.Background(), req.ID)
	require.ErrorIs(t, err, ErrNoProposals)
}

func TestCompareOracleErrorReturnsProposals(t *testing.T) {
	requests, responders, proposals, req, _ := seedComparison(t)

	orc := newFakeOracle()
	orc.errs["compare_proposals"] = &oracle.UpstreamError{Category: oracle.CategoryUnavailable, Attempts: 4}
	svc := NewComparisonService(requests, responders, proposals, orc, zap.NewNop())

	comparison, records, err := svc.Compare(context.Background(), req.ID)
	require.Error(t, err)
	assert.Nil(t, comparison)
	// 降级：原始提案仍然可用
	require.Len(t, records, 1)
}

func TestRepairComparisonHardFailures(t *testing.T) {
	base := func(mutate func(m map[string]any)) json.RawMessage {
		m := map[string]any{
			"analyses": []any{map[string]any{"responder_id": "r1", "total_score": 5.0}},
			"recommendation": map[string]any{
				"responder_id": "r1", "reasoning": "ok", "confidence": 0.5,
			},
			"summary": "fine",
		}
		mutate(m)
		raw, _ := json.Marshal(m)
		return raw
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"missing analyses", func(m map[string]any) { delete(m, "analyses") }},
		{"empty analyses", func(m map[string]any) { m["analyses"] = []any{} }},
		{"missing recommendation", func(m map[string]any) { delete(m, "recommendation") }},
		{"recommendation without responder", func(m map[string]any) {
			m["recommendation"] = map[string]any{"reasoning": "ok"}
		}},
		{"missing summary", func(m map[string]any) { delete(m, "summary") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repairComparison(base(tt.mutate))
			require.ErrorIs(t, err, ErrComparisonInvalid)
		})
	}
}

func TestRepairComparisonRepairsSoftFields(t *testing.T) {
	raw := json.RawMessage(`{
		"analyses": [{
			"responder_id": "r1",
			"total_score": 6,
			"strengths": "very cheap",
			"weaknesses": null
		}],
		"recommendation": {"responder_id": "r1", "reasoning": "ok"},
		"summary": "fine"
	}`)

	comparison, err := repairComparison(raw)
	require.NoError(t, err)

	a := comparison.Analyses[0]
	assert.Equal(t, []string{}, a.Strengths)
	assert.Equal(t, []string{}, a.Weaknesses)
	assert.Equal(t, []string{}, a.RedFlags)

	// confidence 缺失 → 默认 0.8
	assert.Equal(t, defaultRecommendationConfidence, comparison.Recommendation.Confidence)
}

func TestRepairComparisonConfidenceOutOfRange(t *testing.T) {
	for _, confidence := range []string{"-0.2", "1.7"} {
		raw := json.RawMessage(`{
			"analyses": [{"responder_id": "r1"}],
			"recommendation": {"responder_id": "r1", "confidence": ` + confidence + `},
			"summary": "fine"
		}`)
		comparison, err := repairComparison(raw)
		require.NoError(t, err)
		assert.Equal(t, defaultRecommendationConfidence, comparison.Recommendation.Confidence)
	}
}
