package models

// DeletionRootEvent is published once per user-initiated folder deletion.
// Replaying it is safe: the sweep only ever touches non-deleted rows.
type DeletionRootEvent struct {
	FolderID string `json:"folderId"`
	OwnerID  string `json:"ownerId"`
	Path     string `json:"fileSystemPath"`
}

// UploadNotification is relayed 1:1 from a storage-provider event. It stays
// deliberately thin; consumers re-read object headers for further metadata.
type UploadNotification struct {
	StorageKey string `json:"s3Key"`
	Bucket     string `json:"bucket"`
}
