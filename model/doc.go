// Package model defines stable boundary types shared by the sync protocols.
//
// These structs are the only types intended for direct JSON serialization by
// consumers. Fields that must never leave the device (local file paths,
// upload state) are scrubbed by package wire.
package model
