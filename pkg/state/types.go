package state

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrDuplicateKey reports that a Ref already holds a value.
var ErrDuplicateKey = errors.New("state: duplicate key")

// ErrInvalidRef reports a Ref missing its node or key.
var ErrInvalidRef = errors.New("state: invalid ref")

// Key names the kind of value stored on a node, usually derived from a Go type.
type Key string

// KeyOf returns the Key for type T.
func KeyOf[T any]() Key {
	return Key(reflect.TypeFor[T]().String())
}

// Ref identifies one entry: a value of kind Key attached to one node.
type Ref struct {
	Node string
	Key  Key
}

// Identifier returns the canonical storage key for r.
func (r Ref) Identifier() (string, error) {
	node := strings.TrimSpace(r.Node)
	key := strings.TrimSpace(string(r.Key))
	if node == "" {
		return "", fmt.Errorf("%w: node is required", ErrInvalidRef)
	}
	if key == "" {
		return "", fmt.Errorf("%w: key is required for node %q", ErrInvalidRef, node)
	}
	return fmt.Sprintf("node/%s/%s", node, key), nil
}

// DuplicateKeyError is returned by Put when the Ref is already occupied.
type DuplicateKeyError struct {
	Ref Ref
}

func (e *DuplicateKeyError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("state: duplicate key %q on node %q", e.Ref.Key, e.Ref.Node)
}

// Is matches ErrDuplicateKey.
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}
