package migration

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Envelope is the serialized form of an Operation: the variant name under
// "op" next to the variant's own fields
type Envelope struct {
	Op   Kind
	Body Operation
}

// NewOperation returns an empty value of the named variant
func NewOperation(kind Kind) (Operation, error) {
	switch kind {
	case KindCreateModel:
		return &CreateModel{}, nil
	case KindDeleteModel:
		return &DeleteModel{}, nil
	case KindRenameModel:
		return &RenameModel{}, nil
	case KindAddField:
		return &AddField{}, nil
	case KindRemoveField:
		return &RemoveField{}, nil
	case KindAlterField:
		return &AlterField{}, nil
	case KindRenameField:
		return &RenameField{}, nil
	case KindAddIndex:
		return &AddIndex{}, nil
	case KindRemoveIndex:
		return &RemoveIndex{}, nil
	case KindAddConstraint:
		return &AddConstraint{}, nil
	case KindRemoveConstraint:
		return &RemoveConstraint{}, nil
	case KindCreateExtension:
		return &CreateExtension{}, nil
	case KindDropExtension:
		return &DropExtension{}, nil
	case KindRunSQL:
		return &RunSQL{}, nil
	default:
		return nil, invalid("unknown operation %q", kind)
	}
}

// MarshalYAML writes the op key first, followed by the variant's fields
func (e Envelope) MarshalYAML() (interface{}, error) {
	var body yaml.Node
	if err := body.Encode(e.Body); err != nil {
		return nil, err
	}
	node := &yaml.Node{Kind: yaml.MappingNode}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "op"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: string(e.Body.Kind())},
	)
	node.Content = append(node.Content, body.Content...)
	return node, nil
}

// UnmarshalYAML reads the op key and decodes the rest into that variant
func (e *Envelope) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return invalid("operation must be a mapping, got line %d", node.Line)
	}
	var kind string
	rest := &yaml.Node{Kind: yaml.MappingNode}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "op" {
			kind = node.Content[i+1].Value
			continue
		}
		rest.Content = append(rest.Content, node.Content[i], node.Content[i+1])
	}
	if kind == "" {
		return invalid("operation at line %d has no op key", node.Line)
	}
	op, err := NewOperation(Kind(kind))
	if err != nil {
		return err
	}
	if err := rest.Decode(op); err != nil {
		return fmt.Errorf("failed to decode %s operation: %w", kind, err)
	}
	e.Op = Kind(kind)
	e.Body = op
	return nil
}

// Canonical returns a stable encoding of op used for structural comparison
func Canonical(op Operation) []byte {
	data, err := json.Marshal(op)
	if err != nil {
		// all variants are plain data
		panic(fmt.Sprintf("failed to encode %s: %v", op.Kind(), err))
	}
	return append([]byte(string(op.Kind())+":"), data...)
}

// Equivalent reports whether two operation lists are structurally identical
func Equivalent(a, b []Operation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind() != b[i].Kind() || !bytes.Equal(Canonical(a[i]), Canonical(b[i])) {
			return false
		}
	}
	return true
}
