// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Reservation is a final name claimed in a directory. For prevent and
// number policies an empty placeholder file holds the name until the real
// content is renamed over it, so two concurrent publishes cannot pick the
// same slot.
type Reservation struct {
	Dir  string
	Name string

	placeholder bool
	released    bool
}

func (r *Reservation) Path() string {
	return filepath.Join(r.Dir, r.Name)
}

// Commit marks the reservation as filled. Release becomes a no-op.
func (r *Reservation) Commit() {
	r.released = true
}

// Release removes our placeholder after a failed publish. A reservation
// that never created a placeholder leaves the path alone, since whatever
// is there belongs to someone else.
func (r *Reservation) Release() error {
	if r.released || !r.placeholder {
		return nil
	}
	r.released = true
	fi, err := os.Lstat(r.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	// Only an untouched placeholder is ours to remove.
	if fi.Mode().IsRegular() && fi.Size() == 0 {
		return os.Remove(r.Path())
	}
	return nil
}

func claim(p string) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// Reserve claims a final name for a publish into dir.
//
//   - PolicyOverwrite: name is returned as-is and nothing is created.
//   - PolicyPrevent: fails with ErrDuplicate if name exists.
//   - PolicyNumber: claims the lowest free slot starting at name.
func Reserve(dir, name string, policy Policy) (*Reservation, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}

	switch policy {
	case PolicyPrevent:
		err := claim(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		if err != nil {
			return nil, err
		}
		return &Reservation{Dir: dir, Name: name, placeholder: true}, nil

	case PolicyNumber:
		for n := 0; n < maxNumberedAttempts; n++ {
			candidate := numbered(name, n)
			err := claim(filepath.Join(dir, candidate))
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return &Reservation{Dir: dir, Name: candidate, placeholder: true}, nil
		}
		return nil, fmt.Errorf("no free name for %q after %d attempts", name, maxNumberedAttempts)

	default:
		return &Reservation{Dir: dir, Name: name}, nil
	}
}
