// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package browse serves the directory API used by the upload UI: listing,
// folder creation, move/rename and delete, all confined to the storage root.
package browse

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapdrop/pkg/ingest/placement"
	"github.com/LeeDigitalWorks/zapdrop/pkg/logger"
	"github.com/LeeDigitalWorks/zapdrop/pkg/staging"

	"github.com/dustin/go-humanize"
)

const maxBodyBytes = 64 << 10

var (
	errOutsideRoot = errors.New("path is outside the storage root")
	errReserved    = errors.New("path is reserved")
)

// Handler serves /api/* relative to a storage root. The staging directory,
// when it lives under the root, is hidden and protected.
type Handler struct {
	root    string
	staging string
}

func NewHandler(root, stagingDir string) (*Handler, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	h := &Handler{root: filepath.Clean(absRoot)}
	if stagingDir != "" {
		absStaging, err := filepath.Abs(stagingDir)
		if err != nil {
			return nil, err
		}
		h.staging = filepath.Clean(absStaging)
	}
	return h, nil
}

// RegisterRoutes registers the directory API on mux.
//   - GET  /api/list?path=
//   - POST /api/mkdir
//   - POST /api/move
//   - POST /api/delete
//   - GET  /api/upload-policy?size=
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/list", h.handleList)
	mux.HandleFunc("/api/mkdir", h.handleMkdir)
	mux.HandleFunc("/api/move", h.handleMove)
	mux.HandleFunc("/api/delete", h.handleDelete)
	mux.HandleFunc("/api/upload-policy", h.handleUploadPolicy)
}

// resolve maps a client path onto the filesystem. ".." segments cannot climb
// above the root.
func (h *Handler) resolve(rel string) (string, error) {
	rel = filepath.FromSlash(strings.ReplaceAll(rel, "\\", "/"))
	p := filepath.Join(h.root, filepath.Clean(string(filepath.Separator)+rel))
	if !placement.Within(h.root, p) {
		return "", errOutsideRoot
	}
	if h.isStaging(p) {
		return "", errReserved
	}
	return p, nil
}

func (h *Handler) isStaging(p string) bool {
	return h.staging != "" && placement.Within(h.staging, p)
}

func (h *Handler) rel(p string) string {
	r, err := filepath.Rel(h.root, p)
	if err != nil || r == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(r)
}

// Item is one directory entry.
type Item struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	IsDir     bool      `json:"isDir"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"sizeHuman,omitempty"`
	ModTime   time.Time `json:"mtime"`
}

type listResponse struct {
	Path  string `json:"path"`
	Items []Item `json:"items"`
}

// handleList returns the entries of a directory
// GET /api/list?path=
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "ERR_METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	dir, err := h.resolve(r.URL.Query().Get("path"))
	if err != nil {
		writePathError(w, err)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		writeFSError(w, r, err)
		return
	}

	items := make([]Item, 0, len(entries))
	for _, de := range entries {
		full := filepath.Join(dir, de.Name())
		if h.isStaging(full) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		item := Item{
			Name:    de.Name(),
			Path:    h.rel(full),
			IsDir:   de.IsDir(),
			ModTime: info.ModTime().UTC(),
		}
		if !item.IsDir {
			item.Size = info.Size()
			item.SizeHuman = humanize.IBytes(uint64(info.Size()))
		}
		items = append(items, item)
	}
	sortItems(items)

	writeJSON(w, listResponse{Path: h.rel(dir), Items: items}, http.StatusOK)
}

// sortItems puts directories first, then orders by case-insensitive name.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		a, b := strings.ToLower(items[i].Name), strings.ToLower(items[j].Name)
		if a != b {
			return a < b
		}
		return items[i].Name < items[j].Name
	})
}

type mkdirRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// handleMkdir creates a folder
// POST /api/mkdir {"path": parent, "name": folder}
func (h *Handler) handleMkdir(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "ERR_METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var req mkdirRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !ValidFolderName(req.Name) {
		writeError(w, http.StatusBadRequest, "ERR_INVALID_FILE_NAME", "Invalid folder name")
		return
	}

	parent, err := h.resolve(req.Path)
	if err != nil {
		writePathError(w, err)
		return
	}
	target := filepath.Join(parent, req.Name)
	if h.isStaging(target) {
		writePathError(w, errReserved)
		return
	}

	if err := os.Mkdir(target, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			writeError(w, http.StatusConflict, "ERR_ALREADY_EXISTS", "Folder "+req.Name+" already exists")
			return
		}
		writeFSError(w, r, err)
		return
	}

	logger.Ctx(r.Context()).Info().Str("path", h.rel(target)).Msg("browse: folder created")
	writeJSON(w, map[string]string{"path": h.rel(target)}, http.StatusCreated)
}

// ValidFolderName accepts letters, digits, space, dot, underscore and dash,
// excluding "." and "..".
func ValidFolderName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == ' ', r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

type moveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// handleMove renames a file or folder within the root
// POST /api/move {"from": path, "to": path}
func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "ERR_METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	from, err := h.resolve(req.From)
	if err != nil {
		writePathError(w, err)
		return
	}
	to, err := h.resolve(req.To)
	if err != nil {
		writePathError(w, err)
		return
	}
	if from == h.root || to == h.root {
		writeError(w, http.StatusForbidden, "ERR_FORBIDDEN", "the storage root cannot be moved")
		return
	}
	if placement.Within(from, to) {
		writeError(w, http.StatusBadRequest, "ERR_INVALID_PATH", "cannot move a folder into itself")
		return
	}

	if _, err := os.Lstat(from); err != nil {
		writeFSError(w, r, err)
		return
	}
	if _, err := os.Lstat(to); err == nil {
		writeError(w, http.StatusConflict, "ERR_ALREADY_EXISTS", path.Base(filepath.ToSlash(to))+" already exists")
		return
	}

	if err := os.Rename(from, to); err != nil {
		writeFSError(w, r, err)
		return
	}

	logger.Ctx(r.Context()).Info().
		Str("from", h.rel(from)).
		Str("to", h.rel(to)).
		Msg("browse: moved")
	writeJSON(w, map[string]string{"path": h.rel(to)}, http.StatusOK)
}

type deleteRequest struct {
	Path string `json:"path"`
}

// handleDelete removes a file or a folder tree
// POST /api/delete {"path": path}
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "ERR_METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	target, err := h.resolve(req.Path)
	if err != nil {
		writePathError(w, err)
		return
	}
	if target == h.root {
		writeError(w, http.StatusForbidden, "ERR_FORBIDDEN", "the storage root cannot be deleted")
		return
	}
	// The staging directory may sit below target.
	if h.staging != "" && placement.Within(target, h.staging) {
		writePathError(w, errReserved)
		return
	}

	if _, err := os.Lstat(target); err != nil {
		writeFSError(w, r, err)
		return
	}
	if err := os.RemoveAll(target); err != nil {
		writeFSError(w, r, err)
		return
	}

	logger.Ctx(r.Context()).Info().Str("path", h.rel(target)).Msg("browse: deleted")
	w.WriteHeader(http.StatusNoContent)
}

type policyResponse struct {
	Size      int64   `json:"size"`
	Parts     int     `json:"parts"`
	PartSizes []int64 `json:"partSizes"`
}

// handleUploadPolicy tells clients how many parts to split a file into
// GET /api/upload-policy?size=N
func (h *Handler) handleUploadPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "ERR_METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	size, err := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	if err != nil || size < 0 {
		writeError(w, http.StatusBadRequest, "ERR_INVALID_SIZE", "size must be a non-negative integer")
		return
	}

	n := staging.PartCount(size)
	writeJSON(w, policyResponse{Size: size, Parts: n, PartSizes: staging.PartSizes(size, n)}, http.StatusOK)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "ERR_INVALID_REQUEST", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writePathError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errReserved):
		writeError(w, http.StatusForbidden, "ERR_FORBIDDEN", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "ERR_INVALID_PATH", err.Error())
	}
}

func writeFSError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "ERR_NOT_FOUND", "not found")
	case errors.Is(err, fs.ErrExist):
		writeError(w, http.StatusConflict, "ERR_ALREADY_EXISTS", "already exists")
	default:
		logger.Ctx(r.Context()).Error().Err(err).Str("url", r.URL.Path).Msg("browse: filesystem error")
		writeError(w, http.StatusInternalServerError, "ERR_INTERNAL", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, map[string]string{"code": code, "message": message}, status)
}
