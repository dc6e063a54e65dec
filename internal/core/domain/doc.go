// Package domain defines the core business entities for ferry.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - NodeRef, ChildAssociationRef, Path: node identity and placement
//   - ManifestRecord: header, normal node, deleted node and end records
//   - Transfer, TransferTarget, TransferVersion: one replication run
//   - TransferProgress, LogEntry: receiver-side progress
//   - AlienMarking: cross-repository ownership of destination nodes
//   - ContentData, DeltaList: content payloads and the content still needed
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
