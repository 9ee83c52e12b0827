package projects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vigil-sec/vigil/internal/shared"
)

// BlobStore keeps uploaded file contents.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Invalidator drops cached per-user views after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// Upload describes one incoming file.
type Upload struct {
	Name        string
	Path        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// Service implements project and file use cases.
type Service struct {
	repo        Repository
	blobs       BlobStore
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService constructs a Service. blobs and invalidator may be nil.
func NewService(repo Repository, blobs BlobStore, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		blobs:       blobs,
		invalidator: invalidator,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

// List returns a page of the owner's projects.
func (s *Service) List(ctx context.Context, ownerID int64, page, size int) (ListResult, error) {
	page, size = shared.NormalizePage(page, size)
	items, total, err := s.repo.List(ctx, ownerID, size, shared.Offset(page, size))
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Projects: items, Pagination: shared.NewPagination(page, size, total)}, nil
}

// Get returns the project and its files.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (Detail, error) {
	p, err := s.repo.Get(ctx, ownerID, id)
	if err != nil {
		return Detail{}, err
	}
	files, err := s.repo.Files(ctx, ownerID, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Project: p, Files: files}, nil
}

// Validate checks project input and returns per-field messages.
func (s *Service) Validate(in Input) map[string]string {
	errs := map[string]string{}
	var fieldErrs validator.ValidationErrors
	if !errors.As(s.validate.Struct(in), &fieldErrs) {
		return errs
	}
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			errs[fe.Field()] = "This field is required"
		case "max":
			errs[fe.Field()] = "Must be at most " + fe.Param() + " characters"
		default:
			errs[fe.Field()] = fe.Error()
		}
	}
	return errs
}

func normalizeInput(in Input) Input {
	return Input{Name: strings.TrimSpace(in.Name), Description: strings.TrimSpace(in.Description)}
}

// Create validates and inserts a project.
func (s *Service) Create(ctx context.Context, ownerID int64, in Input) (Project, error) {
	in = normalizeInput(in)
	if errs := s.Validate(in); len(errs) > 0 {
		return Project{}, shared.ErrValidation
	}
	p, err := s.repo.Create(ctx, ownerID, in)
	if err != nil {
		return Project{}, err
	}
	s.invalidate(ctx, ownerID)
	return p, nil
}

// Update validates and saves project changes.
func (s *Service) Update(ctx context.Context, ownerID, id int64, in Input) (Project, error) {
	in = normalizeInput(in)
	if errs := s.Validate(in); len(errs) > 0 {
		return Project{}, shared.ErrValidation
	}
	p, err := s.repo.Update(ctx, ownerID, id, in)
	if err != nil {
		return Project{}, err
	}
	s.invalidate(ctx, ownerID)
	return p, nil
}

// Delete removes a project with everything under it.
func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	keys, err := s.repo.Delete(ctx, ownerID, id)
	if err != nil {
		return err
	}
	for _, key := range keys {
		s.deleteBlob(ctx, key)
	}
	s.invalidate(ctx, ownerID)
	return nil
}

// AddFile stores an upload and records it on the project.
func (s *Service) AddFile(ctx context.Context, ownerID, projectID int64, up Upload) (File, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(up.Name), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return File{}, shared.NewUserError("Choose a file to upload", shared.ErrValidation)
	}
	switch {
	case up.Size <= 0:
		return File{}, shared.NewUserError("The uploaded file is empty", ErrEmptyFile)
	case up.Size > MaxFileSize:
		return File{}, shared.NewUserError(fmt.Sprintf("Files are limited to %d MiB", MaxFileSize>>20), ErrFileTooLarge)
	}
	if _, err := s.repo.Get(ctx, ownerID, projectID); err != nil {
		return File{}, err
	}

	filePath := strings.Trim(strings.TrimSpace(up.Path), "/")
	if filePath == "" {
		filePath = name
	}
	f := File{
		ProjectID: projectID,
		Name:      name,
		Path:      filePath,
		Language:  DetectLanguage(name),
		Size:      up.Size,
	}
	if s.blobs != nil && up.Body != nil {
		key := ObjectKey(projectID, name)
		if err := s.blobs.Put(ctx, key, up.Body, up.Size, up.ContentType); err != nil {
			return File{}, err
		}
		f.ObjectKey = key
	}

	saved, err := s.repo.AddFile(ctx, ownerID, f)
	if err != nil {
		if f.ObjectKey != "" {
			s.deleteBlob(ctx, f.ObjectKey)
		}
		return File{}, err
	}
	s.invalidate(ctx, ownerID)
	return saved, nil
}

// RemoveFile deletes a file from the project and the blob store.
func (s *Service) RemoveFile(ctx context.Context, ownerID, projectID, fileID int64) error {
	f, err := s.repo.RemoveFile(ctx, ownerID, projectID, fileID)
	if err != nil {
		return err
	}
	if f.ObjectKey != "" {
		s.deleteBlob(ctx, f.ObjectKey)
	}
	s.invalidate(ctx, ownerID)
	return nil
}

// ObjectKey builds the blob key for an uploaded file.
func ObjectKey(projectID int64, name string) string {
	return fmt.Sprintf("projects/%d/%s-%s", projectID, uuid.NewString(), name)
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Warn("delete project blob", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate dashboard", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
