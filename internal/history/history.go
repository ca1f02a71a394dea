// Package history reconciles the URIs served by previous builds with the
// current build so that old URIs keep working: a URI whose asset moved
// becomes a permanent redirect and a URI whose asset disappeared becomes a
// deletion.
package history

import (
	"context"
	"sort"

	"github.com/conneroisu/msssg/internal/store"
)

// Kind is the outcome for one historical URI.
type Kind int

const (
	// Redirect sends the old URI permanently to the asset's current URI.
	Redirect Kind = iota
	// Deletion marks the old URI as gone.
	Deletion
)

func (k Kind) String() string {
	if k == Redirect {
		return "REDIRECT"
	}

	return "DELETION"
}

// Decision is the action taken for one historical URI.
type Decision struct {
	URI  string
	Kind Kind
	// Location is the redirect target; empty for deletions.
	Location string
	AssetID  string
}

// Resolve compares history (URI to asset id, accumulated over previous
// builds) with assets (asset id to current URI) and returns one decision
// per URI that needs one, sorted by URI. URIs served by the current build
// never produce a decision.
func Resolve(history, assets map[string]string) []Decision {
	current := make(map[string]struct{}, len(assets))
	for _, uri := range assets {
		current[uri] = struct{}{}
	}

	var decisions []Decision
	for uri, id := range history {
		if _, ok := current[uri]; ok {
			continue
		}

		if location, ok := assets[id]; ok {
			decisions = append(decisions, Decision{URI: uri, Kind: Redirect, Location: location, AssetID: id})
		} else {
			decisions = append(decisions, Decision{URI: uri, Kind: Deletion, AssetID: id})
		}
	}

	sort.Slice(decisions, func(i, j int) bool { return decisions[i].URI < decisions[j].URI })

	return decisions
}

// Writer records redirect and deletion rows.
type Writer interface {
	InsertRedirect(ctx context.Context, uri string, kind store.RedirectKind, location string, cache store.Cache) error
	InsertDeletion(ctx context.Context, uri string) error
}

// Apply writes decisions in order. Redirects are PERMANENT and uncached.
func Apply(ctx context.Context, w Writer, decisions []Decision) error {
	for _, d := range decisions {
		var err error
		switch d.Kind {
		case Redirect:
			err = w.InsertRedirect(ctx, d.URI, store.RedirectPermanent, d.Location, store.CacheNone)
		case Deletion:
			err = w.InsertDeletion(ctx, d.URI)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// Counts tallies redirects and deletions.
func Counts(decisions []Decision) (redirects, deletions int) {
	for _, d := range decisions {
		if d.Kind == Redirect {
			redirects++
		} else {
			deletions++
		}
	}

	return redirects, deletions
}
