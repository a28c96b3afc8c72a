package reasoning

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/parlance-data/parlance/pkg/catalog"
	"github.com/parlance-data/parlance/pkg/llm"
)

const inferenceSystemPrompt = `You are a data modeling expert. Given two relation definitions, identify the attribute pairs that form valid join conditions. Only propose joins between semantically equivalent attributes with compatible types. If no valid join exists, say so.`

type inferenceOutput struct {
	FoundJoins bool `json:"found_joins"`
	Joins      []struct {
		LeftAttribute  string  `json:"left_attribute"`
		RightAttribute string  `json:"right_attribute"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
	} `json:"joins"`
}

func (r *Reasoner) llmCandidates(ctx context.Context, left, right *catalog.Relation, constraints []string) ([]Candidate, error) {
	r.log.Info("using LLM for relationship inference", "left", left.Name, "right", right.Name)

	var sb strings.Builder
	sb.WriteString("Identify join conditions between these two relations.\n\n")
	sb.WriteString(r.catalog.DescribePair(left.Name, right.Name))
	if len(constraints) > 0 {
		sb.WriteString("\nUser-provided constraints (these are authoritative):\n")
		for _, c := range constraints {
			sb.WriteString("- " + c + "\n")
		}
	}

	out, err := llm.Structured[inferenceOutput](ctx, r.llm, inferenceSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("relationship inference: %w", err)
	}
	if !out.FoundJoins || len(out.Joins) == 0 {
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(out.Joins))
	for _, j := range out.Joins {
		confidence := j.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}
		candidates = append(candidates, Candidate{
			LeftRelation:   left.Name,
			LeftAttribute:  j.LeftAttribute,
			RightRelation:  right.Name,
			RightAttribute: j.RightAttribute,
			Confidence:     confidence,
			Rationale:      j.Reasoning,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates, nil
}
