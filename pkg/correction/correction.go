// Package correction models the clarifying input a user supplies when the
// workflow suspends. Corrections form a closed set of kinds; parsing never
// fails because unrecognized input falls back to the free-text kind.
package correction

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the correction variant.
type Kind string

const (
	KindRelationshipClarification Kind = "relationship_clarification"
	KindAttributeAlias            Kind = "attribute_alias"
	KindRelationSelection         Kind = "relation_selection"
	KindFilterClarification       Kind = "filter_clarification"
	KindBusinessRule              Kind = "business_rule"
	KindFreeText                  Kind = "free_text"
)

// Correction is one piece of user guidance applied to a session. Exactly one
// of the kind-specific field groups is populated, per Kind.
type Correction struct {
	Kind          Kind      `json:"kind"`
	AttemptNumber int       `json:"attempt_number"`
	Timestamp     time.Time `json:"timestamp"`

	// KindRelationshipClarification
	Relations     []string `json:"relations,omitempty"`
	JoinCondition string   `json:"join_condition,omitempty"`

	// KindAttributeAlias
	UserTerm  string `json:"user_term,omitempty"`
	Attribute string `json:"attribute,omitempty"`

	// KindRelationSelection
	SelectedRelation  string   `json:"selected_relation,omitempty"`
	RejectedRelations []string `json:"rejected_relations,omitempty"`

	// KindFilterClarification / KindBusinessRule / KindFreeText
	Text string `json:"text,omitempty"`
}

// ConstraintString derives the canonical hard-constraint directive appended to
// the session. All subsequent generation and inference must honor it.
func (c Correction) ConstraintString() string {
	switch c.Kind {
	case KindRelationshipClarification:
		return fmt.Sprintf("MANDATORY JOIN: %s between %s", c.JoinCondition, strings.Join(c.Relations, ", "))
	case KindAttributeAlias:
		return fmt.Sprintf("ATTRIBUTE MAPPING: '%s' maps to '%s'", c.UserTerm, c.Attribute)
	case KindRelationSelection:
		if len(c.RejectedRelations) > 0 {
			return fmt.Sprintf("MANDATORY RELATION: Use '%s'. DO NOT use: %s",
				c.SelectedRelation, strings.Join(c.RejectedRelations, ", "))
		}
		return fmt.Sprintf("MANDATORY RELATION: Use '%s'", c.SelectedRelation)
	case KindFilterClarification:
		return "FILTER REQUIREMENT: " + c.Text
	case KindBusinessRule:
		return "BUSINESS RULE: " + c.Text
	default:
		return "USER CLARIFICATION: " + c.Text
	}
}

// NewRelationshipClarification builds a correction fixing the join between two
// relations.
func NewRelationshipClarification(relations []string, joinCondition string) Correction {
	return Correction{
		Kind:          KindRelationshipClarification,
		Timestamp:     time.Now(),
		Relations:     relations,
		JoinCondition: joinCondition,
	}
}

// NewAttributeAlias builds a correction mapping a user term to an actual
// attribute.
func NewAttributeAlias(userTerm, attribute string) Correction {
	return Correction{
		Kind:      KindAttributeAlias,
		Timestamp: time.Now(),
		UserTerm:  userTerm,
		Attribute: attribute,
	}
}

// NewRelationSelection builds a correction pinning the relation to use and,
// optionally, the alternatives to avoid.
func NewRelationSelection(selected string, rejected []string) Correction {
	return Correction{
		Kind:              KindRelationSelection,
		Timestamp:         time.Now(),
		SelectedRelation:  selected,
		RejectedRelations: rejected,
	}
}

// NewFreeText builds the fallback correction carrying the raw user input.
func NewFreeText(text string) Correction {
	return Correction{Kind: KindFreeText, Timestamp: time.Now(), Text: text}
}
