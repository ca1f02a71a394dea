package store

import (
	"fmt"
	"strings"
)

// Action is what the runtime does for a URI.
type Action string

const (
	ActionResource Action = "RESOURCE"
	ActionRedirect Action = "REDIRECT"
	ActionDeletion Action = "DELETION"
)

// Cache is the client caching directive of a URI.
type Cache string

const (
	CacheNone       Cache = "NONE"
	CacheShort      Cache = "SHORT"
	CacheMedium     Cache = "MEDIUM"
	CacheLong       Cache = "LONG"
	CacheIndefinite Cache = "INDEFINITE"
)

// ParseCache parses a cache directive name.
func ParseCache(name string) (Cache, error) {
	switch c := Cache(strings.TrimSpace(name)); c {
	case CacheNone, CacheShort, CacheMedium, CacheLong, CacheIndefinite:
		return c, nil
	default:
		return "", fmt.Errorf("unknown cache %q", name)
	}
}

// RedirectKind distinguishes temporary from permanent redirects.
type RedirectKind string

const (
	RedirectTemporary RedirectKind = "TEMPORARY"
	RedirectPermanent RedirectKind = "PERMANENT"
)

// ParseRedirectKind parses a redirect type name.
func ParseRedirectKind(name string) (RedirectKind, error) {
	switch k := RedirectKind(strings.TrimSpace(name)); k {
	case RedirectTemporary, RedirectPermanent:
		return k, nil
	default:
		return "", fmt.Errorf("unknown redirect type %q", name)
	}
}

// Location says where an encoding's payload lives.
type Location string

const (
	LocationInline Location = "INLINE"
	LocationFile   Location = "FILE"
)

// Record is one row of the uris table joined with its resource row.
type Record struct {
	URI    string
	Action Action
	Cache  Cache
	// Type and ETag are set for resources only.
	Type string
	ETag string
}

// Redirect is one row of the redirects table.
type Redirect struct {
	URI      string
	Kind     RedirectKind
	Location string
}

// Encoding is one row of the encodings table. Data holds the payload for
// inline encodings and is nil for file encodings, which set Path instead.
type Encoding struct {
	Name     string
	Location Location
	Data     []byte
	Path     string
	Length   int64
}

// Stats summarizes the store contents.
type Stats struct {
	Resources    int
	Redirects    int
	Deletions    int
	Encodings    int
	InlineBytes  int64
	FileBytes    int64
	Deduplicated int64
	Discarded    int64
}
