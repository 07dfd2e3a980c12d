package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Mover relocates objects between tiers. S3 has no rename, so a move is a
// copy followed by a delete, and the two calls fail independently:
//
//   - Copy failure: the source is untouched and the error surfaces.
//   - Delete failure after a successful copy: the object now exists in both
//     tiers. Move still reports success, counts the stray, and leaves the
//     duplicate for the reconciliation sweep.
//
// An object is therefore never lost mid-move, at the price of transient
// duplicates.
type Mover struct {
	store  ObjectStore
	strays atomic.Int64
}

// NewMover creates a Mover backed by the given object store.
func NewMover(store ObjectStore) *Mover {
	return &Mover{store: store}
}

// Move copies src to dst and deletes src. A missing source whose destination
// already exists is treated as a move a previous attempt completed; retries
// of partially failed multi-object operations land on this path.
func (m *Mover) Move(ctx context.Context, src, dst Ref) error {
	if err := m.store.Copy(ctx, src, dst); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			if moved, exErr := m.store.Exists(ctx, dst); exErr == nil && moved {
				log.Debug().
					Str("source", src.URI()).
					Str("destination", dst.URI()).
					Msg("Source already relocated")
				return nil
			}
		}
		return fmt.Errorf("copying %s to %s: %w", src.URI(), dst.URI(), err)
	}

	if err := m.store.Delete(ctx, src); err != nil {
		m.strays.Add(1)
		log.Warn().
			Err(err).
			Str("source", src.URI()).
			Str("destination", dst.URI()).
			Msg("Copied but failed to delete source; duplicate remains until swept")
	}
	return nil
}

// MoveAll moves every source into dstBucket under dstPrefix, keeping the
// source filename and the input order. It returns the destination refs for
// the sources moved so far; on error the remaining sources are untouched.
func (m *Mover) MoveAll(ctx context.Context, srcs []Ref, dstBucket, dstPrefix string) ([]Ref, error) {
	moved := make([]Ref, 0, len(srcs))
	for _, src := range srcs {
		key := src.Filename()
		if dstPrefix != "" {
			key = dstPrefix + "/" + key
		}
		dst := Ref{Bucket: dstBucket, Key: key}
		if err := m.Move(ctx, src, dst); err != nil {
			return moved, err
		}
		moved = append(moved, dst)
	}
	return moved, nil
}

// Strays reports how many delete failures have left duplicate objects behind
// since the Mover was created.
func (m *Mover) Strays() int64 {
	return m.strays.Load()
}
