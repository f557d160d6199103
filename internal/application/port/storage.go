package port

import "context"

// FileStorage writes run artifacts. Paths are full paths that must stay
// within the storage's base directory.
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	ValidatePath(path string) error
}

// FolderManager defines folder management operations
type FolderManager interface {
	CreateFolder(ctx context.Context, name string) (string, error)
	GetPath(name string) string
	Exists(name string) bool
	SanitizeName(name string) string
}
