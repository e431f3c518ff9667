// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events announces files that were published into the storage root.
//
// Events are best effort: a publisher failure is logged and counted but
// never undoes or delays the publish itself.
package events

// Event names.
const (
	EventPublished = "upload.published"
	EventDiscarded = "upload.discarded"
)

// Event describes a file that reached (or was dropped before reaching) its
// final location.
type Event struct {
	ID        string `json:"id"`
	Name      string `json:"event"`
	Path      string `json:"path"`
	FileName  string `json:"name"`
	Size      int64  `json:"size"`
	Parts     int    `json:"parts"`
	XXHash    string `json:"xxhash,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
