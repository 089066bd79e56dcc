package conditions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ruleSetYAML = `
name: quiz-quality
description: Checks on quiz setup
enabled: true
rules:
  - key: section_quiz_has_slots
    name: Section quiz has questions
    category: activity_type
    target_type: section
    enabled: true
    chains:
      - logical_operator_to_next: OR
        segments:
          - target_type: SECTION
            check_type: HAS_CONTENT
            content_child_type: MODULE
            content_child_identifier: quiz
          - target_type: MODULE
            target_identifier: quiz
            check_type: HAS_CONTENT
            content_child_type: SUB_ELEMENT
            content_child_identifier: slot
      - segments:
          - target_type: SECTION
            check_type: HAS_SETTING
            setting_name: visible
            setting_operator: IS_FALSE
`

func TestLoadYAML(t *testing.T) {
	rs, err := LoadYAML(strings.NewReader(ruleSetYAML))
	require.NoError(t, err)

	assert.Equal(t, "quiz-quality", rs.Name)
	require.Len(t, rs.Definitions, 1)
	def := rs.Definitions[0]
	assert.Equal(t, "section_quiz_has_slots", def.Key)
	require.Len(t, def.Chains, 2)
	assert.Equal(t, LogicalOr, def.Chains[0].LogicalOperatorToNext)
	assert.Len(t, def.Chains[0].Segments, 2)
	assert.Equal(t, OpIsFalse, def.Chains[1].Segments[0].SettingOperator)
}

func TestLoadYAMLRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "name: x\nrulez: []\n"},
		{"missing name", "rules: []\n"},
		{"invalid rule", "name: x\nrules:\n  - key: k\n    name: K\n    category: hint\n    target_type: section\n    chains: []\n"},
		{"not yaml", "name: [unterminated\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}
