package extract

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// extractYAML accepts either a deck document with name, tags and cards, or a bare list of cards.
func extractYAML(content []byte) (*Deck, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return nil, fmt.Errorf("parse YAML deck: %w", err)
	}
	if len(node.Content) == 0 {
		return &Deck{}, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var entries []Entry
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("decode YAML cards: %w", err)
		}
		return &Deck{Entries: entries}, nil
	}
	var deck Deck
	if err := root.Decode(&deck); err != nil {
		return nil, fmt.Errorf("decode YAML deck: %w", err)
	}
	return &deck, nil
}
