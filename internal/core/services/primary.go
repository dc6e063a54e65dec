package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/logger"
)

// ReadOnlyAspect is added to nodes transferred by a read-only manifest.
const ReadOnlyAspect = "trx:readOnly"

// Ensure PrimaryProcessor implements the interface.
var _ driven.ManifestProcessor = (*PrimaryProcessor)(nil)

// PrimaryProcessor applies manifest node records to the destination store.
//
// Nodes whose parent cannot be resolved yet are held as orphans keyed by
// the source parent they wait for, and placed as soon as that parent is
// created. Orphans still waiting at the end of the manifest are fatal.
type PrimaryProcessor struct {
	transferID string
	fromRepo   string
	readOnly   bool

	store    driven.NodeStore
	resolver *NodeResolver
	alien    *AlienProcessor
	monitor  driven.ProgressMonitor

	orphans map[domain.NodeRef][]*domain.NormalNode
	content ContentHandler
}

// ContentHandler makes a node's content available at the destination
// before the node is written.
type ContentHandler func(ctx context.Context, content domain.ContentData) error

// PrimaryOption configures a PrimaryProcessor.
type PrimaryOption func(*PrimaryProcessor)

// WithContentHandler sets the handler run for every content item of a
// created or updated node.
func WithContentHandler(h ContentHandler) PrimaryOption {
	return func(p *PrimaryProcessor) {
		p.content = h
	}
}

// NewPrimaryProcessor creates a processor for one transfer. fromRepo is
// the source repository, replaced by the header's repository id when the
// header carries one.
func NewPrimaryProcessor(
	transferID, fromRepo string,
	store driven.NodeStore,
	monitor driven.ProgressMonitor,
	opts ...PrimaryOption,
) *PrimaryProcessor {
	p := &PrimaryProcessor{
		transferID: transferID,
		fromRepo:   fromRepo,
		store:      store,
		resolver:   NewNodeResolver(store),
		alien:      NewAlienProcessor(store),
		monitor:    monitor,
		orphans:    make(map[domain.NodeRef][]*domain.NormalNode),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartManifest resets the orphan holding area.
func (p *PrimaryProcessor) StartManifest(context.Context) error {
	clear(p.orphans)
	return nil
}

// ProcessHeader records the source repository and transfer flags.
func (p *PrimaryProcessor) ProcessHeader(ctx context.Context, header domain.ManifestHeader) error {
	if header.RepositoryID != "" {
		p.fromRepo = header.RepositoryID
	}
	p.readOnly = header.ReadOnly
	p.log(ctx, domain.LogComment, nil, "", fmt.Sprintf("manifest from %s with %d nodes", p.fromRepo, header.NodeCount))
	return nil
}

// ProcessNormalNode creates, updates or moves the node's counterpart.
func (p *PrimaryProcessor) ProcessNormalNode(ctx context.Context, node *domain.NormalNode) error {
	queue := []*domain.NormalNode{node}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		placed, err := p.apply(ctx, next)
		if err != nil {
			return err
		}
		if !placed {
			continue
		}
		if waiting, ok := p.orphans[next.Ref]; ok {
			delete(p.orphans, next.Ref)
			queue = append(queue, waiting...)
		}
	}
	return nil
}

// apply places one node and reports whether it now exists at the
// destination.
func (p *PrimaryProcessor) apply(ctx context.Context, node *domain.NormalNode) (bool, error) {
	pair, err := p.resolver.Resolve(ctx, node.Ref, node.Primary, node.Path)
	if err != nil {
		return false, err
	}
	if pair.ResolvedParent == nil {
		parent := node.Primary.Parent
		p.orphans[parent] = append(p.orphans[parent], node)
		p.log(ctx, domain.LogComment, &node.Ref, node.Path.String(), "parent not present yet, holding node")
		return false, nil
	}
	if err := p.placeContent(ctx, node); err != nil {
		return false, err
	}
	if pair.ResolvedChild == nil {
		return true, p.create(ctx, *pair.ResolvedParent, node)
	}
	return true, p.update(ctx, *pair.ResolvedChild, *pair.ResolvedParent, node)
}

func (p *PrimaryProcessor) create(ctx context.Context, parent domain.NodeRef, node *domain.NormalNode) error {
	n := domain.Node{
		Ref:        node.Ref,
		Type:       node.Type,
		Origin:     p.fromRepo,
		Aspects:    p.aspects(node.Aspects),
		Properties: properties(node),
	}
	assoc, err := p.store.CreateNode(ctx, parent, node.Primary.Type, node.Primary.Name, n)
	if err != nil {
		return fmt.Errorf("create %s: %w", node.Ref, err)
	}
	if err := p.alien.OnCreateChild(ctx, assoc, p.fromRepo, true); err != nil {
		return err
	}
	p.log(ctx, domain.LogCreated, &node.Ref, node.Path.String(), node.Primary.Name)
	return nil
}

func (p *PrimaryProcessor) update(ctx context.Context, ref, parent domain.NodeRef, node *domain.NormalNode) error {
	existing, err := p.store.Get(ctx, ref)
	if err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}

	current, err := p.store.PrimaryParent(ctx, ref)
	if err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	moved := current.Parent != parent || current.Name != node.Primary.Name || current.Type != node.Primary.Type
	if moved {
		if err := p.alien.BeforeDeleteAlien(ctx, ref, &current); err != nil {
			return err
		}
		current, err = p.store.MoveNode(ctx, ref, parent, node.Primary.Type, node.Primary.Name)
		if err != nil {
			return fmt.Errorf("move %s: %w", ref, err)
		}
	}

	adopted := !existing.Transferred()
	if adopted {
		existing.Origin = p.fromRepo
	}
	existing.Type = node.Type
	existing.Aspects = p.aspects(node.Aspects)
	existing.Properties = properties(node)
	if err := p.store.UpdateNode(ctx, *existing); err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}

	switch {
	case moved:
		if err := p.alien.AfterMoveAlien(ctx, current); err != nil {
			return err
		}
		p.log(ctx, domain.LogMoved, &ref, node.Path.String(), node.Primary.Name)
	case adopted:
		if err := p.alien.OnCreateChild(ctx, current, p.fromRepo, false); err != nil {
			return err
		}
	}
	p.log(ctx, domain.LogUpdated, &ref, node.Path.String(), node.Primary.Name)
	return nil
}

// ProcessDeletedNode deletes the node's counterpart. Alien counterparts
// are pruned for the source repository instead, so content other
// repositories placed beneath them survives.
func (p *PrimaryProcessor) ProcessDeletedNode(ctx context.Context, node *domain.DeletedNode) error {
	pair, err := p.resolver.Resolve(ctx, node.Ref, node.Primary, node.Path)
	if err != nil {
		return err
	}
	if pair.ResolvedChild == nil {
		p.log(ctx, domain.LogComment, &node.Ref, node.Path.String(), "already absent")
		return nil
	}
	ref := *pair.ResolvedChild

	alien, err := p.alien.IsAlien(ctx, ref)
	if err != nil {
		return err
	}
	if alien {
		if err := p.alien.PruneNode(ctx, ref, p.fromRepo); err != nil {
			return err
		}
		p.log(ctx, domain.LogDeleted, &ref, node.Path.String(), "pruned for "+p.fromRepo)
		return nil
	}

	if err := p.alien.BeforeDeleteAlien(ctx, ref, nil); err != nil {
		return err
	}
	if err := p.store.DeleteNode(ctx, ref); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	p.log(ctx, domain.LogDeleted, &ref, node.Path.String(), "")
	return nil
}

// EndManifest fails when orphans remain.
func (p *PrimaryProcessor) EndManifest(ctx context.Context) error {
	if len(p.orphans) == 0 {
		return nil
	}
	parents := slices.SortedFunc(maps.Keys(p.orphans), func(a, b domain.NodeRef) int {
		return strings.Compare(a.String(), b.String())
	})
	count := 0
	for _, parent := range parents {
		for _, o := range p.orphans[parent] {
			count++
			p.log(ctx, domain.LogError, &o.Ref, o.Path.String(), "parent "+parent.String()+" never arrived")
		}
	}
	return fmt.Errorf("%w: %d nodes waiting on %d parents", domain.ErrOrphansRemain, count, len(parents))
}

func (p *PrimaryProcessor) placeContent(ctx context.Context, node *domain.NormalNode) error {
	if p.content == nil {
		return nil
	}
	names := slices.Sorted(maps.Keys(node.Content))
	for _, name := range names {
		if err := p.content(ctx, node.Content[name]); err != nil {
			return fmt.Errorf("content %s of %s: %w", name, node.Ref, err)
		}
	}
	return nil
}

func (p *PrimaryProcessor) aspects(in []string) []string {
	out := slices.Clone(in)
	if p.readOnly && !slices.Contains(out, ReadOnlyAspect) {
		out = append(out, ReadOnlyAspect)
	}
	return out
}

func (p *PrimaryProcessor) log(ctx context.Context, kind domain.LogEntryKind, ref *domain.NodeRef, path, msg string) {
	err := p.monitor.Log(ctx, domain.LogEntry{
		TransferID: p.transferID,
		Kind:       kind,
		Node:       ref,
		Path:       path,
		Message:    msg,
	})
	if err != nil {
		logger.Warn("transfer %s: log %s: %v", p.transferID, kind, err)
	}
}

func properties(node *domain.NormalNode) map[string]any {
	props := maps.Clone(node.Properties)
	if props == nil && len(node.Content) > 0 {
		props = make(map[string]any, len(node.Content))
	}
	for name, c := range node.Content {
		props[name] = c
	}
	return props
}
