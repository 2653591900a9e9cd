// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so that manifest validation works
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// PatchManifestSchema is the embedded patch-manifest JSON schema.
//
//go:embed patch-manifest.schema.json
var PatchManifestSchema []byte
