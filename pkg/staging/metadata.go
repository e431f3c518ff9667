// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Metadata keys a client may attach to an upload session.
const (
	KeyFilename            = "filename"
	KeyFiletype            = "filetype"
	KeyPath                = "path"
	KeyUseOriginalFilename = "useOriginalFilename"
	KeyOnDuplicateFiles    = "onDuplicateFiles"
	KeyIsPartedUpload      = "isPartedUpload"
	KeyOriginalFilename    = "originalFilename"
	KeyPartNumber          = "partNumber"
	KeyTotalParts          = "totalParts"
	KeyPartID              = "partId"
)

// MaxTotalParts bounds the totalParts a parted upload may declare.
const MaxTotalParts = 10000

// ErrInvalidMetadata is wrapped by every metadata validation failure.
var ErrInvalidMetadata = errors.New("invalid upload metadata")

// Metadata is the decoded key/value map of an upload session.
type Metadata map[string]string

// Part describes one piece of a parted upload.
type Part struct {
	OriginalFilename string
	Number           int
	Total            int
	ID               string
}

func (m Metadata) Filename() string {
	return m[KeyFilename]
}

// OriginalFilename falls back to filename when the client omits it.
func (m Metadata) OriginalFilename() string {
	if v := m[KeyOriginalFilename]; v != "" {
		return v
	}
	return m[KeyFilename]
}

func (m Metadata) Path() string {
	return m[KeyPath]
}

// UseOriginalFilename is true only for the literal string "true". Any other
// value leaves the session untouched in staging.
func (m Metadata) UseOriginalFilename() bool {
	return m[KeyUseOriginalFilename] == "true"
}

func (m Metadata) IsParted() bool {
	return m[KeyIsPartedUpload] == "true"
}

// OnDuplicateFiles returns the raw duplicate policy string.
func (m Metadata) OnDuplicateFiles() string {
	return m[KeyOnDuplicateFiles]
}

// Part validates and returns the parted-upload fields.
func (m Metadata) Part() (Part, error) {
	name := m.OriginalFilename()
	if strings.TrimSpace(name) == "" {
		return Part{}, fmt.Errorf("%w: parted upload without originalFilename", ErrInvalidMetadata)
	}
	number, err := strconv.Atoi(strings.TrimSpace(m[KeyPartNumber]))
	if err != nil {
		return Part{}, fmt.Errorf("%w: partNumber %q", ErrInvalidMetadata, m[KeyPartNumber])
	}
	total, err := strconv.Atoi(strings.TrimSpace(m[KeyTotalParts]))
	if err != nil {
		return Part{}, fmt.Errorf("%w: totalParts %q", ErrInvalidMetadata, m[KeyTotalParts])
	}
	if total < 1 || total > MaxTotalParts {
		return Part{}, fmt.Errorf("%w: totalParts %d outside 1..%d", ErrInvalidMetadata, total, MaxTotalParts)
	}
	if number < 1 || number > total {
		return Part{}, fmt.Errorf("%w: partNumber %d outside 1..%d", ErrInvalidMetadata, number, total)
	}
	return Part{
		OriginalFilename: name,
		Number:           number,
		Total:            total,
		ID:               m[KeyPartID],
	}, nil
}

// Clone returns a copy that is safe to retain after the session is gone.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
