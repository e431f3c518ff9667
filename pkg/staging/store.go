// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const infoSuffix = ".info"

var (
	ErrNotFound  = errors.New("staged upload not found")
	ErrInvalidID = errors.New("invalid upload id")
)

// Info mirrors the sidecar the transfer engine writes next to each
// session's bytes.
type Info struct {
	ID             string            `json:"ID"`
	Size           int64             `json:"Size"`
	SizeIsDeferred bool              `json:"SizeIsDeferred"`
	Offset         int64             `json:"Offset"`
	MetaData       Metadata          `json:"MetaData"`
	IsPartial      bool              `json:"IsPartial"`
	IsFinal        bool              `json:"IsFinal"`
	PartialUploads []string          `json:"PartialUploads"`
	Storage        map[string]string `json:"Storage"`
}

// Complete reports whether every declared byte has been received.
func (i *Info) Complete() bool {
	return !i.SizeIsDeferred && i.Offset == i.Size
}

// Store gives the reconciliation pipeline access to staged sessions by id.
type Store interface {
	// Dir is the staging directory.
	Dir() string
	// Path is where the session's bytes live.
	Path(id string) (string, error)
	Stat(ctx context.Context, id string) (os.FileInfo, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Info(ctx context.Context, id string) (*Info, error)
	// Discard removes the session's bytes and sidecar. Missing files are not an error.
	Discard(ctx context.Context, id string) error
	// DiscardInfo removes only the sidecar, after the bytes were moved out.
	DiscardInfo(ctx context.Context, id string) error
	// List returns the sidecars of every session present in staging.
	List(ctx context.Context) ([]*Info, error)
}

// Local is a Store over a directory laid out as <id> and <id>.info.
type Local struct {
	dir string
}

var _ Store = (*Local)(nil)

func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Local{dir: abs}, nil
}

func (l *Local) Dir() string {
	return l.dir
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasSuffix(id, infoSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (l *Local) Path(id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, id), nil
}

func (l *Local) infoPath(id string) (string, error) {
	p, err := l.Path(id)
	if err != nil {
		return "", err
	}
	return p + infoSuffix, nil
}

func (l *Local) Stat(ctx context.Context, id string) (os.FileInfo, error) {
	p, err := l.Path(id)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fi, err
}

func (l *Local) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	p, err := l.Path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return f, err
}

func (l *Local) Info(ctx context.Context, id string) (*Info, error) {
	p, err := l.infoPath(id)
	if err != nil {
		return nil, err
	}
	return readInfo(p)
}

func readInfo(p string) (*Info, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(p))
	}
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
	}
	return &info, nil
}

func (l *Local) Discard(ctx context.Context, id string) error {
	p, err := l.Path(id)
	if err != nil {
		return err
	}
	return errors.Join(removeIfExists(p), removeIfExists(p+infoSuffix))
}

func (l *Local) DiscardInfo(ctx context.Context, id string) error {
	p, err := l.infoPath(id)
	if err != nil {
		return err
	}
	return removeIfExists(p)
}

func (l *Local) List(ctx context.Context) ([]*Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}

	var infos []*Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), infoSuffix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := readInfo(filepath.Join(l.dir, e.Name()))
		if err != nil {
			// Sidecars are rewritten in place while a transfer is running.
			continue
		}
		if info.ID == "" {
			info.ID = strings.TrimSuffix(e.Name(), infoSuffix)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func removeIfExists(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
