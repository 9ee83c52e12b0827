package projects

import (
	"errors"
	"time"

	"github.com/vigil-sec/vigil/internal/shared"
)

// MaxFileSize bounds a single uploaded source file.
const MaxFileSize = 5 << 20

var (
	// ErrFileTooLarge is returned for uploads above MaxFileSize.
	ErrFileTooLarge = errors.New("projects: file too large")
	// ErrEmptyFile is returned for zero byte uploads.
	ErrEmptyFile = errors.New("projects: empty file")
)

// Project groups the source files a user wants audited.
type Project struct {
	ID          int64
	OwnerID     int64
	Name        string
	Description string
	FileCount   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// File is one uploaded source file.
type File struct {
	ID        int64
	ProjectID int64
	Name      string
	Path      string
	Language  string
	Size      int64
	ObjectKey string
	CreatedAt time.Time
}

// Input carries the editable project fields.
type Input struct {
	Name        string `validate:"required,max=120"`
	Description string `validate:"max=2000"`
}

// ListResult is one page of projects.
type ListResult struct {
	Projects   []Project
	Pagination shared.Pagination
}

// Detail is a project with its files.
type Detail struct {
	Project Project
	Files   []File
}

// TotalSize sums the sizes of the files.
func (d Detail) TotalSize() int64 {
	var total int64
	for _, f := range d.Files {
		total += f.Size
	}
	return total
}
