package correction

import (
	"regexp"
	"strings"
)

// Join patterns: "join A.id with B.a_id", "use A.id = B.a_id", bare
// "A.id = B.a_id".
var (
	reJoinWith   = regexp.MustCompile(`(?i)join\s+(\w+)\.(\w+)\s+(?:with|to|and)\s+(\w+)\.(\w+)`)
	reJoinEquals = regexp.MustCompile(`(?i)use\s+(\w+)\.(\w+)\s*=\s*(\w+)\.(\w+)`)
	reBareJoin   = regexp.MustCompile(`(\w+)\.(\w+)\s*=\s*(\w+)\.(\w+)`)

	// Alias patterns: "region means sales.region_code", "map region to
	// sales.region_code", "use sales.region_code for region".
	reAliasMeans = regexp.MustCompile(`(?i)(\w+)\s+means\s+(\w+)\.(\w+)`)
	reAliasMap   = regexp.MustCompile(`(?i)map\s+(\w+)\s+to\s+(\w+)\.(\w+)`)
	reAliasFor   = regexp.MustCompile(`(?i)use\s+(\w+)\.(\w+)\s+for\s+(\w+)`)

	// Selection patterns: "use table B", "use B instead of A", "use B not A".
	reSelectInstead = regexp.MustCompile(`(?i)use\s+(?:table\s+|relation\s+)?(\w+)\s+(?:instead\s+of|not|over)\s+(\w+)`)
	reSelect        = regexp.MustCompile(`(?i)use\s+(?:table|relation)\s+(\w+)\s*$`)
)

// Parse converts raw user input into a typed Correction. It always succeeds:
// input matching no structured pattern becomes a free-text correction.
func Parse(input string) Correction {
	input = strings.TrimSpace(input)

	if m := reJoinWith.FindStringSubmatch(input); m != nil {
		return NewRelationshipClarification(
			[]string{m[1], m[3]},
			m[1]+"."+m[2]+" = "+m[3]+"."+m[4],
		)
	}
	if m := reJoinEquals.FindStringSubmatch(input); m != nil {
		return NewRelationshipClarification(
			[]string{m[1], m[3]},
			m[1]+"."+m[2]+" = "+m[3]+"."+m[4],
		)
	}

	if m := reSelectInstead.FindStringSubmatch(input); m != nil {
		return NewRelationSelection(m[1], []string{m[2]})
	}
	if m := reSelect.FindStringSubmatch(input); m != nil {
		return NewRelationSelection(m[1], nil)
	}

	if m := reAliasMeans.FindStringSubmatch(input); m != nil {
		return NewAttributeAlias(m[1], m[2]+"."+m[3])
	}
	if m := reAliasMap.FindStringSubmatch(input); m != nil {
		return NewAttributeAlias(m[1], m[2]+"."+m[3])
	}
	if m := reAliasFor.FindStringSubmatch(input); m != nil {
		return NewAttributeAlias(m[3], m[1]+"."+m[2])
	}

	// Bare join condition only counts when the input looks join-shaped,
	// otherwise "a.b = c.d" inside prose would be misread.
	if m := reBareJoin.FindStringSubmatch(input); m != nil && strings.Contains(strings.ToLower(input), "join") {
		return NewRelationshipClarification(
			[]string{m[1], m[3]},
			m[1]+"."+m[2]+" = "+m[3]+"."+m[4],
		)
	}

	return NewFreeText(input)
}
