// Package assets parses input-tier object listings into per-product asset
// groups, the unit of work the reconciliation engine turns into jobs.
//
// Input keys follow {category}/{gtin}_{slot}.{ext}. Grouping is a single
// forward pass over a lexicographically sorted listing with O(1) memory: the
// current group is emitted the instant a different product id appears. The
// sorted-order contract is validated, not assumed.
package assets

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/imagecheck"
	"github.com/e-dialog/galeria-ai-video-quality-tool/internal/storage"
)

// ErrUnsortedListing reports a listing delivered out of sorted order. Groups
// computed from such a listing could silently split, so the scan aborts.
var ErrUnsortedListing = errors.New("object listing out of sorted order")

// Group is one product's reference images as discovered in the input tier.
// ReferenceURIs keeps the listing order; position encodes the semantic slot
// (front, back) and is never reordered downstream.
type Group struct {
	ProductID     string
	Category      string
	ReferenceURIs []string
}

// Grouper turns sorted listings of the given input bucket into asset groups.
type Grouper struct {
	bucket string
}

// NewGrouper creates a Grouper for the input-tier bucket.
func NewGrouper(bucket string) *Grouper {
	return &Grouper{bucket: bucket}
}

// Scan walks a sorted listing and returns the asset groups it contains.
// Directory markers, non-image keys, and keys without a parseable product id
// are dropped and the scan continues; only a sort-order violation aborts.
// Scan is a pure function of its input: the same listing yields the same
// groups.
func (g *Grouper) Scan(objects []storage.Object) ([]Group, error) {
	var (
		groups  []Group
		current Group
		prevKey string
	)

	for _, obj := range objects {
		if prevKey != "" && obj.Key < prevKey {
			return nil, fmt.Errorf("key %q listed after %q: %w", obj.Key, prevKey, ErrUnsortedListing)
		}
		prevKey = obj.Key

		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if !isImage(obj) {
			log.Debug().Str("key", obj.Key).Msg("Skipping non-image object")
			continue
		}
		productID, ok := ParseProductID(obj.Key)
		if !ok {
			log.Debug().Str("key", obj.Key).Msg("Skipping object without a product id stem")
			continue
		}

		if productID != current.ProductID && current.ProductID != "" {
			groups = append(groups, current)
			current = Group{}
		}
		if current.ProductID == "" {
			current = Group{ProductID: productID, Category: parseCategory(obj.Key)}
		}
		current.ReferenceURIs = append(current.ReferenceURIs,
			storage.Ref{Bucket: g.bucket, Key: obj.Key}.URI())
	}

	if current.ProductID != "" {
		groups = append(groups, current)
	}
	return groups, nil
}

// ParseProductID extracts the product id from an object key: the base name,
// extension stripped, up to the first underscore. The id must start with a
// digit; keys that do not parse report ok=false.
func ParseProductID(key string) (id string, ok bool) {
	base := path.Base(key)
	stem := strings.TrimSuffix(base, path.Ext(base))
	id, _, _ = strings.Cut(stem, "_")
	if id == "" || id[0] < '0' || id[0] > '9' {
		return "", false
	}
	return id, true
}

// parseCategory returns the first path segment of the key, or "" for keys at
// the bucket root.
func parseCategory(key string) string {
	if category, _, ok := strings.Cut(key, "/"); ok {
		return category
	}
	return ""
}

func isImage(obj storage.Object) bool {
	if _, ok := imagecheck.MIMEByExtension[strings.ToLower(path.Ext(obj.Key))]; ok {
		return true
	}
	return strings.HasPrefix(obj.ContentType, "image/")
}
