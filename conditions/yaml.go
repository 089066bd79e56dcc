package conditions

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a rule set document:
//
//	name: quiz-quality
//	enabled: true
//	rules:
//	  - key: section_quiz_has_slots
//	    name: Section quiz has questions
//	    category: activity_type
//	    target_type: section
//	    enabled: true
//	    chains:
//	      - segments:
//	          - target_type: SECTION
//	            check_type: HAS_CONTENT
//	            content_child_type: MODULE
//	            content_child_identifier: quiz
//	          - target_type: MODULE
//	            target_identifier: quiz
//	            check_type: HAS_CONTENT
//	            content_child_type: SUB_ELEMENT
//	            content_child_identifier: slot
//
// Every definition is validated.
func LoadYAML(r io.Reader) (*RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("failed to decode rule set: %w", err)
	}
	if rs.Name == "" {
		return nil, fmt.Errorf("rule set has no name")
	}
	for _, def := range rs.Definitions {
		if err := Validate(def); err != nil {
			return nil, err
		}
	}
	return &rs, nil
}

// LoadYAMLFile reads a rule set document from disk.
func LoadYAMLFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return LoadYAML(f)
}
