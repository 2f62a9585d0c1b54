package directory

import (
	"context"

	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/partition"
)

// checkVersionGate implements component H: every call reads d's
// VersionKey. If empty, this library's version record is written; the
// stamp key is not written here and stays absent until the first
// BumpStamp. If present, any operation is rejected when the on-disk major
// exceeds the library's, and a write operation is also rejected when the
// on-disk minor exceeds the library's.
func checkVersionGate(ctx context.Context, tr kv.Transaction, d *partition.Descriptor, write bool) error {
	major, minor, patch, ok, err := partition.ReadVersion(ctx, tr, d)
	if err != nil {
		return err
	}
	if !ok {
		partition.InitVersion(tr, d)
		return nil
	}

	libMajor, libMinor, _ := partition.LibraryVersion()
	if major > libMajor {
		return incompatibleLayerVersionError(major, minor, patch)
	}
	if write && minor > libMinor {
		return incompatibleLayerVersionError(major, minor, patch)
	}
	return nil
}
