// Package services implements the driving port interfaces.
// Services contain the core transfer logic and orchestrate
// calls to driven ports (adapters).
//
// TransferService drives a push from the sending side. ReceiverService
// stages and commits incoming transfers, using the manifest harness with
// the primary and requisite processors.
package services
