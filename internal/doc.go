// Package internal contains the implementation packages of msssg.
//
// # Package Organization
//
//   - task: scheduler with a parallel worker pool and local futures
//   - store: content-addressed SQLite store with precompressed encodings
//   - assets: the registrar tying asset ids to URIs and render tasks
//   - graphic: responsive image variants and the render cache
//   - markup: the msssg: attribute transform over HTML documents
//   - history: redirect and deletion decisions for vanished URIs
//   - manifest: the URI manifest parser and validator
//   - build: the orchestrator that runs one build end to end
//   - buildcache: history and render caches persisted between builds
//   - report: optional HTML build report
//   - watcher, websocket: watch mode and build notifications
//   - config, logging, errors, version: ambient support
//
// # Data Flow
//
// Manifest entries and markup asset references drive the registrar, which
// drives the graphic renderer for images. Every registration goes through
// the store. Once all entries are processed, history decisions are written,
// the store is persisted and the caches are saved.
package internal
