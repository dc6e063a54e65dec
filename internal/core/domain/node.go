package domain

import (
	"fmt"
	"strings"
)

// StoreRef identifies a node store within a repository,
// e.g. "workspace://SpacesStore".
type StoreRef struct {
	// Protocol is the store protocol (e.g., "workspace", "archive").
	Protocol string `json:"protocol"`

	// Identifier names the store within the protocol.
	Identifier string `json:"identifier"`
}

// String returns the store reference in protocol://identifier form.
func (s StoreRef) String() string {
	return s.Protocol + "://" + s.Identifier
}

// IsZero reports whether the store reference is unset.
func (s StoreRef) IsZero() bool {
	return s.Protocol == "" && s.Identifier == ""
}

// NodeRef is the stable identity of a node. The same NodeRef on two
// repositories denotes the same logical node.
type NodeRef struct {
	Store StoreRef `json:"store"`
	ID    string   `json:"id"`
}

// String returns the node reference in protocol://identifier/id form.
func (n NodeRef) String() string {
	return n.Store.String() + "/" + n.ID
}

// IsZero reports whether the node reference is unset.
func (n NodeRef) IsZero() bool {
	return n.ID == "" && n.Store.IsZero()
}

// ParseNodeRef parses a node reference in protocol://identifier/id form.
func ParseNodeRef(s string) (NodeRef, error) {
	protocol, rest, ok := strings.Cut(s, "://")
	if !ok || protocol == "" {
		return NodeRef{}, fmt.Errorf("%w: node ref %q", ErrInvalidInput, s)
	}
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return NodeRef{}, fmt.Errorf("%w: node ref %q", ErrInvalidInput, s)
	}
	return NodeRef{
		Store: StoreRef{Protocol: protocol, Identifier: rest[:idx]},
		ID:    rest[idx+1:],
	}, nil
}

// ChildAssociationRef describes a parent/child association between two nodes.
type ChildAssociationRef struct {
	// Type is the association type (e.g., "cm:contains").
	Type string `json:"type"`

	// Parent is the parent end of the association.
	Parent NodeRef `json:"parent"`

	// Name is the association name (qualified child name) under the parent.
	Name string `json:"name"`

	// Child is the child end of the association.
	Child NodeRef `json:"child"`

	// Primary marks the node's primary parent association.
	Primary bool `json:"primary,omitempty"`
}

// Path is the list of association names from a store root to a node.
// The root itself is not included: an empty Path denotes the root.
type Path []string

// String returns the path in /a/b/c form.
func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

// Node is a destination node as seen through the node store.
type Node struct {
	Ref  NodeRef
	Type string

	// Origin is the repository the node was transferred from.
	// Empty for nodes that are local to the destination repository.
	Origin string

	Aspects    []string
	Properties map[string]any
}

// Transferred reports whether the node arrived through a transfer.
func (n *Node) Transferred() bool {
	return n.Origin != ""
}
