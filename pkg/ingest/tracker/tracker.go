// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker keeps in-memory bookkeeping for parted uploads whose
// parts are still arriving.
package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"

	"github.com/google/btree"
)

var ErrPartOutOfRange = errors.New("part number outside group")

// Group is the set of completed parts for one original filename.
type Group struct {
	OriginalFilename string
	TotalParts       int
	// Parts maps part number to the staged session id holding it.
	Parts     map[int]string
	TargetDir string
	Metadata  staging.Metadata
	CreatedAt time.Time
}

// Complete is true once every part 1..TotalParts has arrived.
func (g *Group) Complete() bool {
	if len(g.Parts) != g.TotalParts {
		return false
	}
	for n := range g.Parts {
		if n < 1 || n > g.TotalParts {
			return false
		}
	}
	return true
}

// Received returns the part numbers seen so far in ascending order.
func (g *Group) Received() []int {
	nums := make([]int, 0, len(g.Parts))
	for n := range g.Parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// SessionIDs returns the staged session ids in part order.
func (g *Group) SessionIDs() []string {
	nums := g.Received()
	ids := make([]string, len(nums))
	for i, n := range nums {
		ids[i] = g.Parts[n]
	}
	return ids
}

func (g *Group) Age(now time.Time) time.Duration {
	return now.Sub(g.CreatedAt)
}

func (g *Group) clone() *Group {
	c := *g
	c.Parts = make(map[int]string, len(g.Parts))
	for k, v := range g.Parts {
		c.Parts[k] = v
	}
	c.Metadata = g.Metadata.Clone()
	return &c
}

// Arrival is one completed part session.
type Arrival struct {
	SessionID string
	Part      staging.Part
	// TargetDir is only used when the arrival opens a new group.
	TargetDir string
	Metadata  staging.Metadata
}

type Option func(*Tracker)

// WithClock overrides time.Now for group creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker is safe for concurrent use. Groups are indexed by original
// filename and, for expiry, by creation time.
type Tracker struct {
	mu     sync.Mutex
	groups map[string]*Group
	byAge  *btree.BTreeG[*Group]
	now    func() time.Time
}

func lessByAge(a, b *Group) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OriginalFilename < b.OriginalFilename
}

func New(opts ...Option) *Tracker {
	t := &Tracker{
		groups: make(map[string]*Group),
		byAge:  btree.NewG(16, lessByAge),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add records a completed part and returns a snapshot of its group. When
// the arrival completes the group, the group is removed from the tracker
// in the same critical section and done is true, so exactly one caller
// ever sees a given group complete.
//
// A repeated part number replaces the earlier session id.
func (t *Tracker) Add(a Arrival) (g *Group, done bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := a.Part.OriginalFilename
	group, ok := t.groups[name]
	if !ok {
		group = &Group{
			OriginalFilename: name,
			TotalParts:       a.Part.Total,
			Parts:            make(map[int]string),
			TargetDir:        a.TargetDir,
			Metadata:         a.Metadata.Clone(),
			CreatedAt:        t.now(),
		}
		t.groups[name] = group
		t.byAge.ReplaceOrInsert(group)
	}

	if a.Part.Number < 1 || a.Part.Number > group.TotalParts {
		return group.clone(), false, fmt.Errorf("%w: part %d of %q expects 1..%d",
			ErrPartOutOfRange, a.Part.Number, name, group.TotalParts)
	}

	group.Parts[a.Part.Number] = a.SessionID

	if !group.Complete() {
		return group.clone(), false, nil
	}

	t.removeLocked(group)
	return group, true, nil
}

func (t *Tracker) removeLocked(g *Group) {
	delete(t.groups, g.OriginalFilename)
	t.byAge.Delete(g)
}

// Remove drops a group without completing it.
func (t *Tracker) Remove(originalFilename string) (*Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.groups[originalFilename]
	if !ok {
		return nil, false
	}
	t.removeLocked(g)
	return g, true
}

// Expire removes and returns every group created at or before cutoff,
// oldest first.
func (t *Tracker) Expire(cutoff time.Time) []*Group {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*Group
	t.byAge.Ascend(func(g *Group) bool {
		if g.CreatedAt.After(cutoff) {
			return false
		}
		expired = append(expired, g)
		return true
	})
	for _, g := range expired {
		t.removeLocked(g)
	}
	return expired
}

func (t *Tracker) Get(originalFilename string) (*Group, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.groups[originalFilename]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.groups)
}

// Snapshot returns copies of all groups ordered by creation time.
func (t *Tracker) Snapshot() []*Group {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Group, 0, t.byAge.Len())
	t.byAge.Ascend(func(g *Group) bool {
		out = append(out, g.clone())
		return true
	})
	return out
}

// Now is the tracker's clock.
func (t *Tracker) Now() time.Time {
	return t.now()
}
