package archivist

import (
	"io"

	"github.com/rs/zerolog"
)

// testLogger returns a zerolog.Logger that discards output, used
// throughout the package's tests in place of a configured
// cmd/archivistd logger.
func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
