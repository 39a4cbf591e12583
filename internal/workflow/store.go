// internal/workflow/store.go
package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// NotFoundError reports a workflow name with no stored file behind it.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow '%s' not found", e.Name)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// FileStore persists workflows as one YAML file per name under a
// directory.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore builds a store rooted at dir. The directory is created
// lazily on first save.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger.Named("workflow-store")}
}

// Save writes the workflow, overwriting any previous version of the
// same name.
func (s *FileStore) Save(w *Workflow) error {
	if err := validateName(w.Name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workflow dir: %w", err)
	}
	data, err := w.MarshalYAMLBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize workflow '%s': %w", w.Name, err)
	}
	path := s.path(w.Name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	s.logger.Info("Workflow saved.", zap.String("name", w.Name), zap.String("path", path))
	return nil
}

// Load reads one workflow by name. Returns *NotFoundError when no file
// exists for it.
func (s *FileStore) Load(name string) (*Workflow, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Name: name}
		}
		return nil, fmt.Errorf("failed to read workflow '%s': %w", name, err)
	}
	return ParseYAML(data)
}

// List returns every stored workflow sorted by name. Files that fail to
// parse are skipped with a warning so one corrupt file cannot hide the
// rest.
func (s *FileStore) List() ([]*Workflow, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflow dir: %w", err)
	}

	var out []*Workflow
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("Failed to read workflow file.", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		w, err := ParseYAML(data)
		if err != nil {
			s.logger.Warn("Failed to parse workflow file.", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes a stored workflow. Returns *NotFoundError when it does
// not exist.
func (s *FileStore) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{Name: name}
		}
		return fmt.Errorf("failed to delete workflow '%s': %w", name, err)
	}
	s.logger.Info("Workflow deleted.", zap.String("name", name))
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// validateName keeps workflow names usable as file names.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("workflow name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("workflow name %q contains path separators", name)
	}
	return nil
}
