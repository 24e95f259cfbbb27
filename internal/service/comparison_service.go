package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"procurehub/internal/model"
	"procurehub/pkg/metrics"
)

// defaultRecommendationConfidence backfills an absent or out-of-range
// recommendation confidence instead of failing the whole comparison.
const defaultRecommendationConfidence = 0.8

// ComparisonService produces the side-by-side vendor analysis for a
// request. Comparisons are computed on demand and never stored; the
// proposals are the source of truth and a re-run sees the latest state.
type ComparisonService struct {
	requests   RequestStore
	responders ResponderStore
	proposals  ProposalStore
	oracle     Oracle
	logger     *zap.Logger
}

func NewComparisonService(requests RequestStore, responders ResponderStore, proposals ProposalStore, oracle Oracle, logger *zap.Logger) *ComparisonService {
	return &ComparisonService{
		requests:   requests,
		responders: responders,
		proposals:  proposals,
		oracle:     oracle,
		logger:     logger,
	}
}

// Compare ranks all replies received for a request. Unparsed proposals
// participate with their raw text so one bad extraction cannot hide a
// vendor from the ranking.
//
// Errors: ErrNotFound for an unknown request, ErrNoProposals when no
// replies exist yet, ErrComparisonInvalid (wrapped) when the oracle
// output is unusable even after repair. On the latter the proposals are
// returned so the caller can degrade to an unranked listing.
func (s *ComparisonService) Compare(ctx context.Context, requestID uuid.UUID) (*model.Comparison, []model.Proposal, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req == nil {
		return nil, nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}

	proposals, err := s.proposals.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if len(proposals) == 0 {
		return nil, nil, fmt.Errorf("%w: request %s", ErrNoProposals, requestID)
	}

	responders := make(map[string]*model.Responder, len(proposals))
	for _, p := range proposals {
		key := p.ResponderID.String()
		if _, ok := responders[key]; ok {
			continue
		}
		r, err := s.responders.FindByID(ctx, p.ResponderID)
		if err != nil {
			return nil, nil, err
		}
		responders[key] = r
	}

	raw, err := s.oracle.Extract(ctx, "compare_proposals", compareSystemPrompt, buildComparePrompt(req, proposals, responders))
	if err != nil {
		metrics.IncrementComparison("oracle_error")
		return nil, proposals, err
	}

	comparison, err := repairComparison(raw)
	if err != nil {
		metrics.IncrementComparison("invalid")
		s.logger.Warn("Comparison output unusable",
			zap.String("request_id", requestID.String()),
			zap.Error(err),
		)
		return nil, proposals, err
	}

	metrics.IncrementComparison("success")
	return comparison, proposals, nil
}

type comparisonPayload struct {
	Analyses []struct {
		ResponderID       string          `json:"responder_id"`
		ResponderName     string          `json:"responder_name"`
		PriceScore        float64         `json:"price_score"`
		DeliveryScore     float64         `json:"delivery_score"`
		TermsScore        float64         `json:"terms_score"`
		CompletenessScore float64         `json:"completeness_score"`
		TotalScore        float64         `json:"total_score"`
		Strengths         json.RawMessage `json:"strengths"`
		Weaknesses        json.RawMessage `json:"weaknesses"`
		RedFlags          json.RawMessage `json:"red_flags"`
	} `json:"analyses"`
	Recommendation *struct {
		ResponderID   string   `json:"responder_id"`
		ResponderName string   `json:"responder_name"`
		Reasoning     string   `json:"reasoning"`
		Confidence    *float64 `json:"confidence"`
	} `json:"recommendation"`
	Summary string `json:"summary"`
}

// repairComparison applies the repair rules before rejecting: the list
// fields and the recommendation confidence are fixable, but a missing
// analyses list, recommendation target or summary is a hard failure.
func repairComparison(raw json.RawMessage) (*model.Comparison, error) {
	var payload comparisonPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrComparisonInvalid, err)
	}

	if len(payload.Analyses) == 0 {
		return nil, fmt.Errorf("%w: missing analyses", ErrComparisonInvalid)
	}
	if payload.Recommendation == nil || strings.TrimSpace(payload.Recommendation.ResponderID) == "" {
		return nil, fmt.Errorf("%w: missing recommendation responder", ErrComparisonInvalid)
	}
	if strings.TrimSpace(payload.Summary) == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrComparisonInvalid)
	}

	analyses := make([]model.VendorAnalysis, 0, len(payload.Analyses))
	for _, a := range payload.Analyses {
		analyses = append(analyses, model.VendorAnalysis{
			ResponderID:       a.ResponderID,
			ResponderName:     a.ResponderName,
			PriceScore:        a.PriceScore,
			DeliveryScore:     a.DeliveryScore,
			TermsScore:        a.TermsScore,
			CompletenessScore: a.CompletenessScore,
			TotalScore:        a.TotalScore,
			Strengths:         coerceStringList(a.Strengths),
			Weaknesses:        coerceStringList(a.Weaknesses),
			RedFlags:          coerceStringList(a.RedFlags),
		})
	}

	confidence := defaultRecommendationConfidence
	if c := payload.Recommendation.Confidence; c != nil && *c >= 0 && *c <= 1 {
		confidence = *c
	}

	return &model.Comparison{
		Analyses: analyses,
		Recommendation: model.Recommendation{
			ResponderID:   payload.Recommendation.ResponderID,
			ResponderName: payload.Recommendation.ResponderName,
			Reasoning:     payload.Recommendation.Reasoning,
			Confidence:    confidence,
		},
		Summary: payload.Summary,
	}, nil
}

// coerceStringList treats missing or malformed list fields as empty
// rather than failing the comparison.
func coerceStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return []string{}
	}
	return out
}
