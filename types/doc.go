// Package types provides core types shared across the docqa pipeline.
// This package has ZERO dependencies on other docqa packages to avoid circular imports.
// All other packages should import types from here.
package types
