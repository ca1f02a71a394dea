// Package store implements the content store: an in-memory SQLite database
// describing every served URI, plus the resources/ directory holding blobs
// too large to inline. The database is rebuilt from scratch every build and
// persisted atomically once the build has finished.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/conneroisu/msssg/internal/content"
	"github.com/conneroisu/msssg/internal/errors"
	"github.com/conneroisu/msssg/internal/logging"
	"github.com/conneroisu/msssg/internal/task"
)

// ResourcesDir is the bundle subdirectory holding file-backed encodings.
const ResourcesDir = "resources"

// DefaultInlineThreshold is the largest payload stored inline.
const DefaultInlineThreshold = 100000

// Options configures a Store.
type Options struct {
	// OutputDir is the bundle directory; blobs go to OutputDir/resources.
	OutputDir string
	// Encodings lists the content encodings attempted for every encoded
	// resource, in order.
	Encodings []string
	// InlineThreshold is the largest payload kept in the database.
	// Zero selects DefaultInlineThreshold.
	InlineThreshold int
	Logger          logging.Logger
}

// Store is the single-writer content store.
type Store struct {
	db        *sql.DB
	scheduler *task.Scheduler
	encoders  []Encoder
	outputDir string
	threshold int
	logger    logging.Logger

	// mu serializes every write and the existence checks guarding them.
	mu sync.Mutex

	deduplicated atomic.Int64
	discarded    atomic.Int64
}

// Open creates the in-memory schema and the blob directory.
func Open(ctx context.Context, opts Options, scheduler *task.Scheduler) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	encs := make([]Encoder, 0, len(opts.Encodings))
	for _, name := range opts.Encodings {
		e, ok := LookupEncoder(name)
		if !ok {
			return nil, errors.NewStoreError(errors.ErrCodeUnknownEncoder,
				fmt.Sprintf("unknown encoding %q", name), nil)
		}
		encs = append(encs, e)
	}

	threshold := opts.InlineThreshold
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}

	if err := os.MkdirAll(filepath.Join(opts.OutputDir, ResourcesDir), 0755); err != nil {
		return nil, errors.NewStoreError(errors.ErrCodeStoreOpen, "create resources directory", err)
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, errors.NewStoreError(errors.ErrCodeStoreOpen, "open database", err)
	}
	// Every connection to :memory: is a distinct database; keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, errors.NewStoreError(errors.ErrCodeStoreOpen, "create schema", err)
	}

	return &Store{
		db:        db,
		scheduler: scheduler,
		encoders:  encs,
		outputDir: opts.OutputDir,
		threshold: threshold,
		logger:    logger.WithComponent("store"),
	}, nil
}

// Close releases the database. Unpersisted contents are lost.
func (s *Store) Close() error {
	return s.db.Close()
}

// RegisterResource stores data and returns the URI it is served at.
//
// An empty uri selects the content-addressed URI, which requires cache
// INDEFINITE; registering identical content again returns the existing URI
// without inserting. An explicit uri that is already registered is an error.
// When encode is set every configured encoding is computed on the worker
// pool and kept only if strictly smaller than data.
func (s *Store) RegisterResource(ctx context.Context, data []byte, mediaType string, cache Cache, uri string, encode bool) (string, error) {
	id := content.Hash(data, uri)

	etag := id.ETag()
	if uri == "" {
		if cache != CacheIndefinite {
			return "", errors.NewStoreError(errors.ErrCodeRequiresCache,
				fmt.Sprintf("content-addressed resource requires cache %s, got %s", CacheIndefinite, cache), nil)
		}
		uri = id.URI()
		etag = content.ImmutableETag
	}

	inserted, err := s.insertResource(ctx, id, data, mediaType, cache, uri, etag)
	if err != nil {
		return "", err
	}
	if !inserted {
		s.deduplicated.Add(1)
		s.logger.Debug(ctx, "Deduplicated resource", "uri", uri)

		return uri, nil
	}

	if !encode || len(s.encoders) == 0 {
		return uri, nil
	}

	tasks := make([]*task.Task[[]byte], len(s.encoders))
	for i, e := range s.encoders {
		tasks[i] = task.SpawnParallel(s.scheduler, func(ctx context.Context) ([]byte, error) {
			return e.Encode(data)
		})
	}

	for i, t := range tasks {
		encoded, err := t.Await(ctx)
		if err != nil {
			return "", errors.FromContext(err)
		}

		name := s.encoders[i].Name()
		if len(encoded) >= len(data) {
			s.discarded.Add(1)
			continue
		}
		if err := s.insertEncoding(ctx, id, uri, name, encoded); err != nil {
			return "", err
		}
	}

	return uri, nil
}

// insertResource writes the uri, resource and original encoding rows. It
// reports false when a content-addressed uri already exists.
func (s *Store) insertResource(ctx context.Context, id content.ID, data []byte, mediaType string, cache Cache, uri, etag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.existsLocked(ctx, uri)
	if err != nil {
		return false, err
	}
	if exists {
		if etag == content.ImmutableETag {
			return false, nil
		}

		return false, errors.NewStoreError(errors.ErrCodeDuplicateURI,
			fmt.Sprintf("uri %s registered twice", uri), nil).WithContext("uri", uri)
	}

	location, payload, err := s.place(id, "", data)
	if err != nil {
		return false, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO uris (uri, action, cache) VALUES (?, ?, ?)`,
			uri, string(ActionResource), string(cache)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resources (uri, type, etag) VALUES (?, ?, ?)`,
			uri, mediaType, etag); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO encodings (uri, encoding, location, data, length) VALUES (?, ?, ?, ?, ?)`,
			uri, "", string(location), payload, len(data))

		return err
	})
	if err != nil {
		return false, errors.NewStoreError(errors.ErrCodeStoreWrite,
			fmt.Sprintf("insert resource %s", uri), err)
	}

	return true, nil
}

func (s *Store) insertEncoding(ctx context.Context, id content.ID, uri, name string, encoded []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	location, payload, err := s.place(id, name, encoded)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO encodings (uri, encoding, location, data, length) VALUES (?, ?, ?, ?, ?)`,
		uri, name, string(location), payload, len(encoded)); err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite,
			fmt.Sprintf("insert %s encoding of %s", name, uri), err)
	}

	return nil
}

// place decides where a payload lives. Payloads above the threshold are
// written to resources/ and the relative path is returned instead.
func (s *Store) place(id content.ID, encoding string, data []byte) (Location, interface{}, error) {
	if len(data) <= s.threshold {
		if data == nil {
			data = []byte{}
		}

		return LocationInline, data, nil
	}

	rel := ResourcesDir + "/" + id.Filename(encoding)
	if err := os.WriteFile(filepath.Join(s.outputDir, filepath.FromSlash(rel)), data, 0644); err != nil {
		return "", nil, errors.NewStoreError(errors.ErrCodeStoreWrite,
			fmt.Sprintf("write blob %s", rel), err)
	}

	return LocationFile, rel, nil
}

// InsertRedirect records a redirect from uri to location.
func (s *Store) InsertRedirect(ctx context.Context, uri string, kind RedirectKind, location string, cache Cache) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureAbsentLocked(ctx, uri); err != nil {
		return err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO uris (uri, action, cache) VALUES (?, ?, ?)`,
			uri, string(ActionRedirect), string(cache)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO redirects (uri, type, location) VALUES (?, ?, ?)`,
			uri, string(kind), location)

		return err
	})
	if err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite,
			fmt.Sprintf("insert redirect %s", uri), err)
	}

	return nil
}

// InsertDeletion marks uri as gone. Deletions have no redirects row.
func (s *Store) InsertDeletion(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureAbsentLocked(ctx, uri); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO uris (uri, action, cache) VALUES (?, ?, ?)`,
		uri, string(ActionDeletion), string(CacheNone)); err != nil {
		return errors.NewStoreError(errors.ErrCodeStoreWrite,
			fmt.Sprintf("insert deletion %s", uri), err)
	}

	return nil
}

func (s *Store) ensureAbsentLocked(ctx context.Context, uri string) error {
	exists, err := s.existsLocked(ctx, uri)
	if err != nil {
		return err
	}
	if exists {
		return errors.NewStoreError(errors.ErrCodeDuplicateURI,
			fmt.Sprintf("uri %s registered twice", uri), nil).WithContext("uri", uri)
	}

	return nil
}

func (s *Store) existsLocked(ctx context.Context, uri string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM uris WHERE uri = ?`, uri).Scan(&n)
	if err != nil {
		return false, errors.NewStoreError(errors.ErrCodeStoreWrite, "query uri", err)
	}

	return n > 0, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Persist optimizes the database and writes it to path atomically: the
// database is vacuumed into a temporary file beside path, then renamed.
func (s *Store) Persist(ctx context.Context, path string) error {
	op := logging.StartOperation(s.logger, "persist")
	defer op.End(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return errors.NewStoreError(errors.ErrCodeStorePersist, "optimize database", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewStoreError(errors.ErrCodeStorePersist, "create database directory", err)
	}

	tmp := filepath.Join(dir, ".database-"+uuid.NewString()+".tmp")
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO `+quote(tmp)); err != nil {
		_ = os.Remove(tmp)
		return errors.NewStoreError(errors.ErrCodeStorePersist, "write database", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewStoreError(errors.ErrCodeStorePersist, "replace database", err)
	}

	s.logger.Info(ctx, "Database persisted", "path", path)

	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Lookup returns the record for uri.
func (s *Store) Lookup(ctx context.Context, uri string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		r         Record
		mediaType sql.NullString
		etag      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.uri, u.action, u.cache, r.type, r.etag
		FROM uris u LEFT JOIN resources r ON r.uri = u.uri
		WHERE u.uri = ?`, uri).Scan(&r.URI, &r.Action, &r.Cache, &mediaType, &etag)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.NewStoreError(errors.ErrCodeStoreWrite, "lookup uri", err)
	}
	r.Type = mediaType.String
	r.ETag = etag.String

	return r, true, nil
}

// URIs returns every record ordered by URI.
func (s *Store) URIs(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.uri, u.action, u.cache, r.type, r.etag
		FROM uris u LEFT JOIN resources r ON r.uri = u.uri
		ORDER BY u.uri`)
	if err != nil {
		return nil, errors.NewStoreError(errors.ErrCodeStoreWrite, "list uris", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			mediaType sql.NullString
			etag      sql.NullString
		)
		if err := rows.Scan(&r.URI, &r.Action, &r.Cache, &mediaType, &etag); err != nil {
			return nil, errors.NewStoreError(errors.ErrCodeStoreWrite, "scan uri", err)
		}
		r.Type = mediaType.String
		r.ETag = etag.String
		records = append(records, r)
	}

	return records, rows.Err()
}

// Redirect returns the redirect row for uri.
func (s *Store) Redirect(ctx context.Context, uri string) (Redirect, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Redirect
	err := s.db.QueryRowContext(ctx,
		`SELECT uri, type, location FROM redirects WHERE uri = ?`, uri).
		Scan(&r.URI, &r.Kind, &r.Location)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Redirect{}, false, nil
	}
	if err != nil {
		return Redirect{}, false, errors.NewStoreError(errors.ErrCodeStoreWrite, "lookup redirect", err)
	}

	return r, true, nil
}

// Encodings returns every encoding row of uri, the original first.
func (s *Store) Encodings(ctx context.Context, uri string) ([]Encoding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT encoding, location, data, length FROM encodings WHERE uri = ? ORDER BY encoding`, uri)
	if err != nil {
		return nil, errors.NewStoreError(errors.ErrCodeStoreWrite, "list encodings", err)
	}
	defer rows.Close()

	var encodings []Encoding
	for rows.Next() {
		var (
			e    Encoding
			data []byte
		)
		if err := rows.Scan(&e.Name, &e.Location, &data, &e.Length); err != nil {
			return nil, errors.NewStoreError(errors.ErrCodeStoreWrite, "scan encoding", err)
		}
		if e.Location == LocationFile {
			e.Path = string(data)
		} else {
			e.Data = data
		}
		encodings = append(encodings, e)
	}

	return encodings, rows.Err()
}

// Payload returns the bytes of one encoding of uri, reading file-backed
// encodings from the bundle.
func (s *Store) Payload(ctx context.Context, uri, encoding string) ([]byte, error) {
	encodings, err := s.Encodings(ctx, uri)
	if err != nil {
		return nil, err
	}

	for _, e := range encodings {
		if e.Name != encoding {
			continue
		}
		if e.Location == LocationInline {
			return e.Data, nil
		}

		data, err := os.ReadFile(filepath.Join(s.outputDir, filepath.FromSlash(e.Path)))
		if err != nil {
			return nil, errors.WrapIO(err, errors.ErrCodeFileRead, e.Path)
		}

		return data, nil
	}

	return nil, fmt.Errorf("uri %s has no %q encoding", uri, encoding)
}

// Stats returns row counts and payload sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Deduplicated: s.deduplicated.Load(),
		Discarded:    s.discarded.Load(),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT action, COUNT(*) FROM uris GROUP BY action`)
	if err != nil {
		return stats, errors.NewStoreError(errors.ErrCodeStoreWrite, "count uris", err)
	}
	for rows.Next() {
		var (
			action Action
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			rows.Close()
			return stats, errors.NewStoreError(errors.ErrCodeStoreWrite, "scan counts", err)
		}
		switch action {
		case ActionResource:
			stats.Resources = n
		case ActionRedirect:
			stats.Redirects = n
		case ActionDeletion:
			stats.Deletions = n
		}
	}
	rows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN location = 'INLINE' THEN length END), 0),
		       COALESCE(SUM(CASE WHEN location = 'FILE' THEN length END), 0)
		FROM encodings`).Scan(&stats.Encodings, &stats.InlineBytes, &stats.FileBytes)
	if err != nil {
		return stats, errors.NewStoreError(errors.ErrCodeStoreWrite, "sum encodings", err)
	}

	return stats, nil
}
