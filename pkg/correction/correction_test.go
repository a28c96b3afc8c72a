package correction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJoinClarification(t *testing.T) {
	c := Parse("join orders.customer_id with customers.id")
	assert.Equal(t, KindRelationshipClarification, c.Kind)
	assert.Equal(t, []string{"orders", "customers"}, c.Relations)
	assert.Equal(t, "orders.customer_id = customers.id", c.JoinCondition)

	c = Parse("use orders.customer_id = customers.id")
	assert.Equal(t, KindRelationshipClarification, c.Kind)
	assert.Equal(t, "orders.customer_id = customers.id", c.JoinCondition)

	c = Parse("the join should be orders.customer_id = customers.id")
	assert.Equal(t, KindRelationshipClarification, c.Kind)
}

func TestParseAttributeAlias(t *testing.T) {
	c := Parse("region means stores.region_code")
	assert.Equal(t, KindAttributeAlias, c.Kind)
	assert.Equal(t, "region", c.UserTerm)
	assert.Equal(t, "stores.region_code", c.Attribute)

	c = Parse("map revenue to orders.total_amount")
	assert.Equal(t, KindAttributeAlias, c.Kind)
	assert.Equal(t, "revenue", c.UserTerm)
	assert.Equal(t, "orders.total_amount", c.Attribute)

	c = Parse("use stores.region_code for region")
	assert.Equal(t, KindAttributeAlias, c.Kind)
	assert.Equal(t, "region", c.UserTerm)
	assert.Equal(t, "stores.region_code", c.Attribute)
}

func TestParseRelationSelection(t *testing.T) {
	c := Parse("use customers instead of clients")
	assert.Equal(t, KindRelationSelection, c.Kind)
	assert.Equal(t, "customers", c.SelectedRelation)
	assert.Equal(t, []string{"clients"}, c.RejectedRelations)

	c = Parse("use table customers")
	assert.Equal(t, KindRelationSelection, c.Kind)
	assert.Equal(t, "customers", c.SelectedRelation)
	assert.Empty(t, c.RejectedRelations)
}

func TestParseFallsBackToFreeText(t *testing.T) {
	c := Parse("I only care about orders from the last quarter")
	assert.Equal(t, KindFreeText, c.Kind)
	assert.Equal(t, "I only care about orders from the last quarter", c.Text)

	// Parsing never errors, even on junk.
	c = Parse("")
	assert.Equal(t, KindFreeText, c.Kind)
}

func TestConstraintStrings(t *testing.T) {
	c := NewRelationshipClarification([]string{"orders", "customers"}, "orders.customer_id = customers.id")
	assert.Equal(t, "MANDATORY JOIN: orders.customer_id = customers.id between orders, customers", c.ConstraintString())

	c = NewAttributeAlias("region", "stores.region_code")
	assert.Equal(t, "ATTRIBUTE MAPPING: 'region' maps to 'stores.region_code'", c.ConstraintString())

	c = NewRelationSelection("customers", []string{"clients", "accounts"})
	assert.Equal(t, "MANDATORY RELATION: Use 'customers'. DO NOT use: clients, accounts", c.ConstraintString())

	c = NewRelationSelection("customers", nil)
	assert.Equal(t, "MANDATORY RELATION: Use 'customers'", c.ConstraintString())

	c = NewFreeText("only last quarter")
	assert.Equal(t, "USER CLARIFICATION: only last quarter", c.ConstraintString())

	c = Correction{Kind: KindFilterClarification, Text: "exclude test accounts"}
	assert.Equal(t, "FILTER REQUIREMENT: exclude test accounts", c.ConstraintString())

	c = Correction{Kind: KindBusinessRule, Text: "revenue is net of refunds"}
	assert.Equal(t, "BUSINESS RULE: revenue is net of refunds", c.ConstraintString())
}
