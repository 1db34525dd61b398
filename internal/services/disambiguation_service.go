package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/costline/materialcache/internal/domain"
	"github.com/costline/materialcache/internal/platform/llm"
	"github.com/costline/materialcache/internal/platform/textutil"
)

const (
	maxDisambiguationCandidates = 20
	maxPromptAliases            = 5

	// heuristicBias lifts word-overlap scores so a decent overlap clears the
	// cache-hit threshold, while the cap keeps even a total overlap short of
	// certainty.
	heuristicBias = 0.3
	heuristicCap  = 0.95
)

// DisambiguationServiceDeps wires the optional completion provider and logger.
type DisambiguationServiceDeps struct {
	// Completions may be nil or unconfigured; selection then runs on the
	// word-overlap heuristic alone.
	Completions CompletionProvider
	Logger      func(context.Context, string, map[string]any)
}

type disambiguationService struct {
	completions CompletionProvider
	logger      func(context.Context, string, map[string]any)
}

// NewDisambiguationService constructs the candidate selector.
func NewDisambiguationService(deps DisambiguationServiceDeps) DisambiguationService {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &disambiguationService{
		completions: deps.Completions,
		logger:      logger,
	}
}

type selectionEnvelope struct {
	MatchIndex *int     `json:"matchIndex"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// SelectBest picks the single best candidate for the query. The LLM path is
// preferred; any call or parse failure degrades to the deterministic
// word-overlap heuristic rather than failing the request.
func (s *disambiguationService) SelectBest(ctx context.Context, query string, candidates []domain.MaterialRecord) domain.MatchResolution {
	if len(candidates) == 0 {
		return domain.MatchResolution{Confidence: 0, Reasoning: "no candidates"}
	}
	if len(candidates) > maxDisambiguationCandidates {
		candidates = candidates[:maxDisambiguationCandidates]
	}

	if s.completions != nil {
		resolution, ok := s.selectWithCompletion(ctx, query, candidates)
		if ok {
			return resolution
		}
	}

	return selectByWordOverlap(query, candidates)
}

func (s *disambiguationService) selectWithCompletion(ctx context.Context, query string, candidates []domain.MaterialRecord) (domain.MatchResolution, bool) {
	text, err := s.completions.Complete(ctx, buildSelectionPrompt(query, candidates))
	if err != nil {
		// A missing credential is expected in some deployments; anything
		// else is worth a warning.
		event := "disambiguation.completion_failed"
		if errors.Is(err, llm.ErrNotConfigured) {
			event = "disambiguation.completion_unconfigured"
		}
		s.logger(ctx, event, map[string]any{"error": err.Error()})
		return domain.MatchResolution{}, false
	}

	raw, err := llm.ExtractJSONObject(text)
	if err != nil {
		s.logger(ctx, "disambiguation.completion_unparseable", map[string]any{"error": err.Error()})
		return domain.MatchResolution{}, false
	}

	var envelope selectionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger(ctx, "disambiguation.completion_unparseable", map[string]any{"error": err.Error()})
		return domain.MatchResolution{}, false
	}
	if envelope.MatchIndex == nil {
		s.logger(ctx, "disambiguation.completion_missing_index", nil)
		return domain.MatchResolution{}, false
	}

	confidence := 0.0
	if envelope.Confidence != nil {
		confidence = clampConfidence(*envelope.Confidence)
	}
	reasoning := strings.TrimSpace(envelope.Reasoning)

	index := *envelope.MatchIndex
	if index < 0 || index >= len(candidates) {
		// A parsed response declining every candidate (or pointing outside
		// the list) is a definitive no-match, not a reason to fall back.
		if reasoning == "" {
			reasoning = "no suitable match"
		}
		return domain.MatchResolution{Confidence: 0, Reasoning: reasoning}, true
	}

	chosen := candidates[index]
	if reasoning == "" {
		reasoning = "selected by model"
	}
	return domain.MatchResolution{
		Record:     &chosen,
		Confidence: confidence,
		Reasoning:  reasoning,
	}, true
}

func buildSelectionPrompt(query string, candidates []domain.MaterialRecord) string {
	var b strings.Builder
	b.WriteString("You match construction material queries to catalog records.\n")
	fmt.Fprintf(&b, "Query: %q\n", strings.TrimSpace(query))
	b.WriteString("Candidates:\n")
	for i, candidate := range candidates {
		aliases := candidate.Aliases
		if len(aliases) > maxPromptAliases {
			aliases = aliases[:maxPromptAliases]
		}
		fmt.Fprintf(&b, "%d. %s", i, candidate.Name)
		if len(aliases) > 0 {
			fmt.Fprintf(&b, " (aliases: %s)", strings.Join(aliases, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with only a JSON object: ")
	b.WriteString(`{"matchIndex": <candidate index, or -1 if none fit>, "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`)
	return b.String()
}

// selectByWordOverlap is the deterministic fallback: score each candidate by
// the share of query words found in its name and aliases, ties keeping store
// order.
func selectByWordOverlap(query string, candidates []domain.MaterialRecord) domain.MatchResolution {
	queryWords := textutil.WordSet(query)

	best := 0
	bestScore := -1.0
	for i, candidate := range candidates {
		score := overlapScore(queryWords, candidate)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}

	if bestScore < 0 {
		bestScore = 0
	}
	chosen := candidates[best]
	confidence := math.Min(bestScore+heuristicBias, heuristicCap)
	return domain.MatchResolution{
		Record:     &chosen,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("word overlap %.2f", bestScore),
	}
}

func overlapScore(queryWords map[string]struct{}, candidate domain.MaterialRecord) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	candidateWords := textutil.WordSet(append([]string{candidate.Name}, candidate.Aliases...)...)
	shared := 0
	for word := range queryWords {
		if _, ok := candidateWords[word]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(queryWords))
}

func clampConfidence(value float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
