// Package conv provides checked integer conversions.
//
// Length and count prefixes written to dumps go through this package so an
// oversized value fails the save instead of wrapping. Conversions that are
// bounded by construction use plain casts.
package conv
