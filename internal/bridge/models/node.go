// Package models defines the catalog rows and broker payloads used by the
// bridge components.
package models

import "time"

// Folder is a catalog row for a directory node. Path is the canonical
// slash-delimited location and always ends with '/'. Size aggregates the
// sizes of all non-deleted descendant files.
type Folder struct {
	ID        string
	ParentID  string // empty for the per-user root
	OwnerID   string
	Path      string
	Size      int64
	IsDeleted bool
	DeletedAt *time.Time
}

// File is a catalog row for a file node. StorageKey addresses the payload
// in the object store.
type File struct {
	ID         string
	ParentID   string
	OwnerID    string
	Path       string
	StorageKey string
	MimeType   string
	Size       int64
	IsDeleted  bool
	DeletedAt  *time.Time
}
