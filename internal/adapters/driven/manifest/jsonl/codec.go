// Package jsonl encodes transfer manifests as JSON lines, one record per
// line, in manifest order.
//
//	{"type":"header","header":{...}}
//	{"type":"node","node":{...}}
//	{"type":"deleted","deleted":{...}}
//	{"type":"end"}
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Ensure Codec implements the interface.
var _ driven.ManifestCodec = (*Codec)(nil)

// Record type tags.
const (
	TypeHeader  = "header"
	TypeNode    = "node"
	TypeDeleted = "deleted"
	TypeEnd     = "end"
)

type line struct {
	Type    string                 `json:"type"`
	Header  *domain.ManifestHeader `json:"header,omitempty"`
	Node    *domain.NormalNode     `json:"node,omitempty"`
	Deleted *domain.DeletedNode    `json:"deleted,omitempty"`
}

// Codec is the JSON lines manifest codec.
type Codec struct{}

// New creates a codec.
func New() *Codec {
	return &Codec{}
}

// Encode writes records to w.
func (c *Codec) Encode(w io.Writer, records []domain.ManifestRecord) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, rec := range records {
		l, err := toLine(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return bw.Flush()
}

func toLine(rec domain.ManifestRecord) (line, error) {
	switch r := rec.(type) {
	case domain.ManifestHeader:
		return line{Type: TypeHeader, Header: &r}, nil
	case *domain.ManifestHeader:
		return line{Type: TypeHeader, Header: r}, nil
	case *domain.NormalNode:
		return line{Type: TypeNode, Node: r}, nil
	case *domain.DeletedNode:
		return line{Type: TypeDeleted, Deleted: r}, nil
	case domain.ManifestEnd, *domain.ManifestEnd:
		return line{Type: TypeEnd}, nil
	default:
		return line{}, fmt.Errorf("%w: unknown manifest record %T", domain.ErrInvalidInput, rec)
	}
}

// NewReader returns a streaming reader over r.
func (c *Codec) NewReader(r io.Reader) driven.ManifestReader {
	return &Reader{dec: json.NewDecoder(bufio.NewReader(r))}
}

// Reader decodes one record per call.
type Reader struct {
	dec  *json.Decoder
	line int
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next(ctx context.Context) (domain.ManifestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var l line
	if err := r.dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: manifest record %d: %w", domain.ErrInvalidInput, r.line+1, err)
	}
	r.line++

	switch l.Type {
	case TypeHeader:
		if l.Header == nil {
			return nil, r.missing(l.Type)
		}
		return *l.Header, nil
	case TypeNode:
		if l.Node == nil {
			return nil, r.missing(l.Type)
		}
		return l.Node, nil
	case TypeDeleted:
		if l.Deleted == nil {
			return nil, r.missing(l.Type)
		}
		return l.Deleted, nil
	case TypeEnd:
		return domain.ManifestEnd{}, nil
	default:
		return nil, fmt.Errorf("%w: manifest record %d: unknown type %q", domain.ErrInvalidInput, r.line, l.Type)
	}
}

func (r *Reader) missing(typ string) error {
	return fmt.Errorf("%w: manifest record %d: %s record has no body", domain.ErrInvalidInput, r.line, typ)
}
