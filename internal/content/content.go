// Package content derives content identity: the truncated keyed BLAKE3
// digest of a payload and the URI, etag and blob filename computed from it.
package content

import (
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

// IDLength is the number of digest bytes kept for a content id.
const IDLength = 16

// AssetPrefix is the path prefix of content-addressed URIs.
const AssetPrefix = "/a/"

// ID is a truncated content digest.
type ID [IDLength]byte

// domainKey separates content ids from any other use of BLAKE3 keyed mode.
// The bytes are the ASCII domain name zero-padded to 32 bytes.
var domainKey = [32]byte{
	'm', 's', 's', 's', 'g', '.', 'c', 'o', 'n', 't', 'e', 'n', 't',
}

var blobEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Hash computes the content id of data with discriminator appended. The
// discriminator is the explicit URI of the resource, or "" for
// content-addressed resources.
func Hash(data []byte, discriminator string) ID {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		// Only a wrong key length fails, and the key is fixed-size.
		panic("content: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(data)
	_, _ = hasher.Write([]byte(discriminator))

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))

	var id ID
	copy(id[:], digest[:IDLength])

	return id
}

// String returns the unpadded base64url form of the id.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// URI returns the content-addressed URI for id.
func (id ID) URI() string {
	return AssetPrefix + id.String()
}

// ETag returns the quoted entity tag for an explicitly addressed resource.
func (id ID) ETag() string {
	return `"` + id.String() + `"`
}

// ImmutableETag is the entity tag of content-addressed resources; their URI
// already changes with their content.
const ImmutableETag = `""`

// Filename returns the blob filename for id, optionally suffixed with an
// encoding name. Base32 keeps it valid on case-insensitive filesystems.
func (id ID) Filename(encoding string) string {
	name := blobEncoding.EncodeToString(id[:])
	if encoding != "" {
		name += "-" + encoding
	}

	return name
}

// KeyFilename returns a filesystem-safe name for an arbitrary key such as a
// render key.
func KeyFilename(key string) string {
	return blobEncoding.EncodeToString([]byte(key))
}

// AssetID derives the logical asset id of a source file: its path relative
// to root, slash-separated and NFC-normalized.
func AssetID(root, file string) (string, error) {
	rel, err := relative(root, file)
	if err != nil {
		return "", err
	}

	return norm.NFC.String(rel), nil
}

func relative(root, file string) (string, error) {
	root = path.Clean(toSlash(root))
	file = path.Clean(toSlash(file))

	if path.IsAbs(file) != path.IsAbs(root) {
		return "", fmt.Errorf("cannot relate %q to root %q", file, root)
	}
	if root == "." {
		if strings.HasPrefix(file, "../") || file == ".." {
			return "", fmt.Errorf("path %q escapes root %q", file, root)
		}

		return file, nil
	}
	if file == root {
		return ".", nil
	}
	if root == "/" {
		return strings.TrimPrefix(file, "/"), nil
	}
	if !strings.HasPrefix(file, root+"/") {
		return "", fmt.Errorf("path %q escapes root %q", file, root)
	}

	return strings.TrimPrefix(file, root+"/"), nil
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
