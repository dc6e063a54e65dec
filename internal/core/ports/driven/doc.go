// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Sending Side
//
//   - Transmitter: Speaks the transfer protocol to a remote receiver
//   - ContentSource: Opens local content referenced by a manifest
//   - ManifestCodec: Encodes and decodes manifest streams
//   - ConfigStore: Application configuration
//
// # Receiving Side
//
//   - TransactionalNodeStore: The destination repository, with transactions
//   - StagingArea: Per-transfer manifest and content staging
//   - ContentStore: Content promoted from staging on commit
//   - ProgressMonitor: Transfer progress and log persistence
//   - FailureHook: Optional cleanup after a failed manifest record
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
