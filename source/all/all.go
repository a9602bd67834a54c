// Package all imports every source so the YAML tags get registered.
package all

import (
	// Register the protocol adapters.
	_ "github.com/neodata/fetchd/source/ftp"
	_ "github.com/neodata/fetchd/source/http"
)
