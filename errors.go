package archivist

import "errors"

// Sentinel errors returned by component boundaries, grounded on the
// teacher's classifyError pattern and the object-store adapter's own
// ErrNotFound/ErrAccessDenied sentinels.
var (
	ErrNotFound         = errors.New("archivist: not found")
	ErrInvalidDimension = errors.New("archivist: invalid vector dimension")
	ErrAuth             = errors.New("archivist: unauthorized")
	ErrInvalidArgument  = errors.New("archivist: invalid argument")
)
