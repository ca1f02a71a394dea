package store

// Schema DDL. The database is created fresh in memory every build.
const (
	pragmas = `PRAGMA foreign_keys = ON;
PRAGMA analysis_limit = 0;`

	createURIs = `CREATE TABLE uris (
    uri TEXT PRIMARY KEY,
    action TEXT NOT NULL,
    cache TEXT NOT NULL,
    CHECK (action IN ('RESOURCE', 'REDIRECT', 'DELETION')),
    CHECK (cache IN ('NONE', 'SHORT', 'MEDIUM', 'LONG', 'INDEFINITE'))
);`

	createResources = `CREATE TABLE resources (
    uri TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    etag TEXT NOT NULL,
    FOREIGN KEY (uri) REFERENCES uris(uri)
);`

	createEncodings = `CREATE TABLE encodings (
    uri TEXT NOT NULL,
    encoding TEXT NOT NULL,
    location TEXT NOT NULL,
    data BLOB,
    length INTEGER NOT NULL,
    UNIQUE (uri, encoding),
    FOREIGN KEY (uri) REFERENCES uris(uri),
    CHECK (location IN ('INLINE', 'FILE'))
);`

	createRedirects = `CREATE TABLE redirects (
    uri TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    location TEXT NOT NULL,
    FOREIGN KEY (uri) REFERENCES uris(uri),
    CHECK (type IN ('TEMPORARY', 'PERMANENT'))
);`
)

// schemaSQL is executed once when the store opens.
var schemaSQL = pragmas + "\n" + createURIs + "\n" + createResources + "\n" + createEncodings + "\n" + createRedirects
