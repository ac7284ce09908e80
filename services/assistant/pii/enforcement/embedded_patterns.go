// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime classifier. It uses the Go
embed package to bake the pii_patterns.yaml file directly into the compiled
binary, so the default pattern table travels with the executable and cannot be
tampered with on the host filesystem.
*/

package enforcement

import (
	_ "embed"
)

// PIIPatterns holds the raw byte content of the 'pii_patterns.yaml' file.
//
// This variable is populated at compile-time using the Go 'embed' directive.
// Operators may still layer an external pattern file over these defaults at
// runtime; the embedded copy is the fallback that is always present.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.PIIPatterns, &targetStruct)
//
//go:embed pii_patterns.yaml
var PIIPatterns []byte
