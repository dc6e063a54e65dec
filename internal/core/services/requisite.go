package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Ensure RequisiteProcessor implements the interface.
var _ driven.ManifestProcessor = (*RequisiteProcessor)(nil)

// RequisiteProcessor works out which content a manifest needs sent.
// Content is required unless the destination node already holds the same
// content URL with the same size. At the end of the manifest the delta
// list is written to out as JSON.
type RequisiteProcessor struct {
	store driven.NodeStore
	out   io.Writer
	delta *domain.DeltaList
}

// NewRequisiteProcessor creates a requisite processor writing to out.
// out may be nil when only Delta is needed.
func NewRequisiteProcessor(store driven.NodeStore, out io.Writer) *RequisiteProcessor {
	return &RequisiteProcessor{store: store, out: out, delta: domain.NewDeltaList()}
}

// Delta returns the delta list gathered so far.
func (p *RequisiteProcessor) Delta() *domain.DeltaList {
	return p.delta
}

// StartManifest clears the delta list.
func (p *RequisiteProcessor) StartManifest(context.Context) error {
	p.delta = domain.NewDeltaList()
	return nil
}

// ProcessHeader does nothing.
func (p *RequisiteProcessor) ProcessHeader(context.Context, domain.ManifestHeader) error {
	return nil
}

// ProcessNormalNode adds the node's missing content to the delta list.
func (p *RequisiteProcessor) ProcessNormalNode(ctx context.Context, node *domain.NormalNode) error {
	if len(node.Content) == 0 {
		return nil
	}
	existing, err := p.store.Get(ctx, node.Ref)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("requisite %s: %w", node.Ref, err)
	}
	for name, c := range node.Content {
		if existing != nil {
			if held, ok := existing.Properties[name].(domain.ContentData); ok && held.URL == c.URL && held.Size == c.Size {
				continue
			}
		}
		p.delta.Add(c.URL)
	}
	return nil
}

// ProcessDeletedNode does nothing.
func (p *RequisiteProcessor) ProcessDeletedNode(context.Context, *domain.DeletedNode) error {
	return nil
}

// EndManifest writes the delta list.
func (p *RequisiteProcessor) EndManifest(context.Context) error {
	if p.out == nil {
		return nil
	}
	if err := json.NewEncoder(p.out).Encode(p.delta); err != nil {
		return fmt.Errorf("write delta list: %w", err)
	}
	return nil
}
