package projects

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/vigil-sec/vigil/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	projects map[int64]*Project
	files    map[int64]*File
	renamed  map[int64]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{projects: map[int64]*Project{}, files: map[int64]*File{}, renamed: map[int64]string{}}
}

func (m *memoryRepo) owned(ownerID, id int64) (*Project, bool) {
	p, ok := m.projects[id]
	if !ok || p.OwnerID != ownerID {
		return nil, false
	}
	return p, true
}

func (m *memoryRepo) List(ctx context.Context, ownerID int64, limit, offset int) ([]Project, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			all = append(all, *p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memoryRepo) Get(ctx context.Context, ownerID, id int64) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.owned(ownerID, id)
	if !ok {
		return Project{}, shared.ErrNotFound
	}
	return *p, nil
}

func (m *memoryRepo) Create(ctx context.Context, ownerID int64, in Input) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := &Project{ID: m.nextID, OwnerID: ownerID, Name: in.Name, Description: in.Description, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	m.projects[p.ID] = p
	return *p, nil
}

func (m *memoryRepo) Update(ctx context.Context, ownerID, id int64, in Input) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.owned(ownerID, id)
	if !ok {
		return Project{}, shared.ErrNotFound
	}
	p.Name, p.Description = in.Name, in.Description
	m.renamed[id] = in.Name
	return *p, nil
}

func (m *memoryRepo) Delete(ctx context.Context, ownerID, id int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owned(ownerID, id); !ok {
		return nil, shared.ErrNotFound
	}
	var keys []string
	for fid, f := range m.files {
		if f.ProjectID == id {
			if f.ObjectKey != "" {
				keys = append(keys, f.ObjectKey)
			}
			delete(m.files, fid)
		}
	}
	delete(m.projects, id)
	return keys, nil
}

func (m *memoryRepo) Files(ctx context.Context, ownerID, projectID int64) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owned(ownerID, projectID); !ok {
		return nil, shared.ErrNotFound
	}
	var out []File
	for _, f := range m.files {
		if f.ProjectID == projectID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *memoryRepo) AddFile(ctx context.Context, ownerID int64, f File) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.owned(ownerID, f.ProjectID)
	if !ok {
		return File{}, shared.ErrNotFound
	}
	m.nextID++
	f.ID = m.nextID
	f.CreatedAt = time.Now()
	m.files[f.ID] = &f
	p.FileCount++
	return f, nil
}

func (m *memoryRepo) RemoveFile(ctx context.Context, ownerID, projectID, fileID int64) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.owned(ownerID, projectID)
	if !ok {
		return File{}, shared.ErrNotFound
	}
	f, ok := m.files[fileID]
	if !ok || f.ProjectID != projectID {
		return File{}, shared.ErrNotFound
	}
	delete(m.files, fileID)
	p.FileCount--
	return *f, nil
}

type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{objects: map[string][]byte{}}
}

func (b *memoryBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = buf.Bytes()
	return nil
}

func (b *memoryBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[int64]int
}

func (c *countingInvalidator) Invalidate(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[int64]int{}
	}
	c.calls[userID]++
	return nil
}
