// Package dirtest provides common test fixtures for exercising
// directory.Layer, mirroring the teacher's storage/inmem/test helper: a
// one-line constructor other packages' tests reach for instead of wiring a
// kv.Database and a Layer by hand at every call site.
package dirtest

import (
	"testing"

	"github.com/dirlayer/fdbdirectory/directory"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/kv/memkv"
	"github.com/dirlayer/fdbdirectory/logging/test"
)

// NewTestLayer returns a fresh directory.Layer over an empty in-memory
// kv.Database, with a buffering test.Logger wired in so a caller can assert
// on what the layer logged.
func NewTestLayer(t *testing.T) (*directory.Layer, kv.Database) {
	t.Helper()
	db := memkv.New()
	t.Cleanup(func() { _ = db.Close() })

	layer := directory.New(db, directory.Options{Logger: test.New()})
	return layer, db
}

// NewTestLayerWithOptions is NewTestLayer but lets the caller override
// Options (e.g. to attach a *metrics.Registry), keeping the Logger default
// unless the caller supplies their own.
func NewTestLayerWithOptions(t *testing.T, opts directory.Options) (*directory.Layer, kv.Database) {
	t.Helper()
	db := memkv.New()
	t.Cleanup(func() { _ = db.Close() })

	if opts.Logger == nil {
		opts.Logger = test.New()
	}
	layer := directory.New(db, opts)
	return layer, db
}
