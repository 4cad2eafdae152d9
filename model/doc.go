// Package model defines stable boundary types for the glyph vault.
//
// Glyph identity (canonical bytes, data hashes, derived ids) is unaffected by
// any projection. These structs are the only types intended for direct JSON
// serialization by consumers such as the web layer.
package model
