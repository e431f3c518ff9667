// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"
)

// CompletedUpload is the completion notification for one staged session.
type CompletedUpload struct {
	ID       string
	Size     int64
	Metadata staging.Metadata
}

// Outcome classifies what reconciliation did with a session.
type Outcome string

const (
	// OutcomeSkipped: useOriginalFilename was not "true"; the session stays in staging.
	OutcomeSkipped Outcome = "skipped"
	// OutcomePublished: a single-session upload was moved to its final path.
	OutcomePublished Outcome = "published"
	// OutcomeTracked: a part was recorded and its group is still incomplete.
	OutcomeTracked Outcome = "tracked"
	// OutcomeAssembled: the last part arrived and the group was concatenated.
	OutcomeAssembled Outcome = "assembled"
	// OutcomeRejected: the final name existed under the prevent policy.
	OutcomeRejected Outcome = "rejected"
	// OutcomeDiscarded: metadata was unusable and the staged bytes were removed.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeDataLoss: the staged bytes were gone when we went to publish them.
	OutcomeDataLoss Outcome = "data_loss"
	OutcomeFailed   Outcome = "failed"
)

// Result reports the outcome of reconciling one session.
type Result struct {
	Outcome Outcome
	// Path is the absolute final path for published and assembled files.
	Path   string
	Size   int64
	Parts  int
	XXHash uint64
}

// Task is a reconciliation running in the background.
type Task struct {
	ID        string    `json:"id"`
	UploadID  string    `json:"upload_id"`
	Filename  string    `json:"filename"`
	Parted    bool      `json:"parted"`
	StartedAt time.Time `json:"started_at"`
}
