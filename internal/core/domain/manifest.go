package domain

import "time"

// ManifestRecord is one record in a transfer manifest.
// It is one of ManifestHeader, *NormalNode, *DeletedNode or ManifestEnd.
type ManifestRecord interface {
	manifestRecord()
}

// ManifestNode is a node record: either *NormalNode or *DeletedNode.
type ManifestNode interface {
	ManifestRecord

	// NodeRef returns the source identity of the node.
	NodeRef() NodeRef

	// PrimaryParent returns the node's primary parent association at the source.
	PrimaryParent() ChildAssociationRef

	// ParentPath returns the source path of the node's primary parent.
	ParentPath() Path
}

// ManifestHeader opens a manifest and declares how many node records follow.
type ManifestHeader struct {
	// NodeCount is the number of node records in the manifest.
	NodeCount int `json:"nodeCount"`

	// CreatedAt is when the manifest was produced.
	CreatedAt time.Time `json:"createdAt"`

	// RepositoryID identifies the source repository.
	RepositoryID string `json:"repositoryId"`

	// Sync marks a synchronising transfer.
	Sync bool `json:"sync,omitempty"`

	// ReadOnly asks the receiver to lock transferred nodes.
	ReadOnly bool `json:"readOnly,omitempty"`
}

func (ManifestHeader) manifestRecord() {}

// ManifestEnd closes a manifest.
type ManifestEnd struct{}

func (ManifestEnd) manifestRecord() {}

// NormalNode is a node to create or update at the destination.
type NormalNode struct {
	Ref        NodeRef             `json:"nodeRef"`
	Type       string              `json:"type"`
	Primary    ChildAssociationRef `json:"primaryParentAssoc"`
	Path       Path                `json:"parentPath"`
	Aspects    []string            `json:"aspects,omitempty"`
	Properties map[string]any      `json:"properties,omitempty"`

	// Content maps content property names to the content they carry.
	Content map[string]ContentData `json:"content,omitempty"`
}

func (*NormalNode) manifestRecord() {}

// NodeRef returns the source identity of the node.
func (n *NormalNode) NodeRef() NodeRef { return n.Ref }

// PrimaryParent returns the node's primary parent association.
func (n *NormalNode) PrimaryParent() ChildAssociationRef { return n.Primary }

// ParentPath returns the path of the node's primary parent.
func (n *NormalNode) ParentPath() Path { return n.Path }

// DeletedNode is a node that was removed at the source.
type DeletedNode struct {
	Ref     NodeRef             `json:"nodeRef"`
	Primary ChildAssociationRef `json:"primaryParentAssoc"`
	Path    Path                `json:"parentPath"`
}

func (*DeletedNode) manifestRecord() {}

// NodeRef returns the source identity of the node.
func (n *DeletedNode) NodeRef() NodeRef { return n.Ref }

// PrimaryParent returns the node's primary parent association before deletion.
func (n *DeletedNode) PrimaryParent() ChildAssociationRef { return n.Primary }

// ParentPath returns the path of the node's primary parent before deletion.
func (n *DeletedNode) ParentPath() Path { return n.Path }

// ResolvedParentChildPair is the outcome of node correspondence resolution.
// A nil ResolvedChild means the node is new at the destination.
// A nil ResolvedParent means the destination parent does not exist yet.
type ResolvedParentChildPair struct {
	ResolvedParent *NodeRef
	ResolvedChild  *NodeRef
}
