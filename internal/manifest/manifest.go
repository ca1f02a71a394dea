// Package manifest loads the site manifest: a mapping from URI to the
// action serving it. YAML and JSON manifests are both accepted. The whole
// manifest is validated before the build starts any work.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/store"
)

// NotFoundURI is the reserved entry served for unknown URIs.
const NotFoundURI = "~notfound"

// Action is how a manifest URI is served.
type Action string

const (
	// ActionResource serves a tracked file at the URI.
	ActionResource Action = "RESOURCE"
	// ActionPermalink serves a file at a URI that never moves; it takes no
	// part in history resolution.
	ActionPermalink Action = "PERMALINK"
	// ActionRedirect redirects the URI to a location.
	ActionRedirect Action = "REDIRECT"
)

// Entry is one validated manifest entry.
type Entry struct {
	URI    string
	Action Action
	Cache  store.Cache

	// Path and Type are set for RESOURCE and PERMALINK entries.
	Path string
	Type string

	// Redirect and Location are set for REDIRECT entries.
	Redirect store.RedirectKind
	Location string
}

// Manifest holds the entries ordered by URI.
type Manifest struct {
	Entries []Entry
}

// URIs returns every manifest URI in order.
func (m *Manifest) URIs() []string {
	uris := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		uris[i] = e.URI
	}

	return uris
}

// Counts tallies the entries per action.
func (m *Manifest) Counts() map[Action]int {
	counts := make(map[Action]int, 3)
	for _, e := range m.Entries {
		counts[e.Action]++
	}

	return counts
}

type rawEntry struct {
	Action   string  `yaml:"action"`
	Path     string  `yaml:"path"`
	Type     string  `yaml:"type"`
	Cache    *string `yaml:"cache"`
	Location string  `yaml:"location"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileRead, path)
	}

	m, err := Parse(data)
	if err != nil {
		if be, ok := err.(*errors.BuildError); ok && be.FilePath == "" {
			be.WithLocation(path, be.Line)
		}
		return nil, err
	}

	return m, nil
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]rawEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		be := errors.NewManifestError(errors.ErrCodeManifestParse, "decode manifest")
		be.Cause = err
		if te, ok := err.(*yaml.TypeError); ok {
			be.WithContext("details", strings.Join(te.Errors, "; "))
		}
		return nil, be
	}

	if _, ok := raw[NotFoundURI]; !ok {
		return nil, errors.NewManifestError(errors.ErrCodeMissingNotFound,
			fmt.Sprintf("manifest must contain %s", NotFoundURI))
	}

	uris := make([]string, 0, len(raw))
	for uri := range raw {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	m := &Manifest{Entries: make([]Entry, 0, len(uris))}
	for _, uri := range uris {
		entry, err := validate(uri, raw[uri])
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, entry)
	}

	return m, nil
}

func validate(uri string, raw rawEntry) (Entry, error) {
	fail := func(code, format string, args ...interface{}) (Entry, error) {
		return Entry{}, errors.NewManifestError(code, fmt.Sprintf(format, args...)).
			WithContext("uri", uri)
	}

	if uri == "" {
		return fail(errors.ErrCodeMissingField, "manifest entry with an empty URI")
	}

	entry := Entry{URI: uri, Action: Action(raw.Action)}

	switch entry.Action {
	case ActionResource, ActionPermalink:
		if raw.Path == "" {
			return fail(errors.ErrCodeMissingField, "%s: %s entry has no path", uri, entry.Action)
		}
		if raw.Type == "" {
			return fail(errors.ErrCodeMissingField, "%s: %s entry has no type", uri, entry.Action)
		}
		entry.Path = raw.Path
		entry.Type = raw.Type

		entry.Cache = store.CacheNone
		if raw.Cache != nil {
			cache, err := store.ParseCache(*raw.Cache)
			if err != nil {
				return fail(errors.ErrCodeUnknownCache, "%s: %v", uri, err)
			}
			entry.Cache = cache
		}
		if entry.Action == ActionPermalink && entry.Cache == store.CacheIndefinite {
			return fail(errors.ErrCodeIllegalCache, "%s: illegal cache for permalink: %s", uri, entry.Cache)
		}

	case ActionRedirect:
		if raw.Type == "" {
			return fail(errors.ErrCodeMissingField, "%s: redirect has no type", uri)
		}
		kind, err := store.ParseRedirectKind(raw.Type)
		if err != nil {
			return fail(errors.ErrCodeUnknownRedirect, "%s: %v", uri, err)
		}
		if raw.Location == "" {
			return fail(errors.ErrCodeMissingField, "%s: redirect has no location", uri)
		}
		if raw.Cache == nil {
			return fail(errors.ErrCodeMissingField, "%s: redirect has no cache", uri)
		}
		cache, err := store.ParseCache(*raw.Cache)
		if err != nil {
			return fail(errors.ErrCodeUnknownCache, "%s: %v", uri, err)
		}
		entry.Redirect = kind
		entry.Location = raw.Location
		entry.Cache = cache

	default:
		return fail(errors.ErrCodeUnknownAction, "%s: unknown action %q", uri, raw.Action)
	}

	return entry, nil
}
