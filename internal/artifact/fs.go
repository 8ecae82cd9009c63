// Package artifact provides a filesystem-backed blob store for trial
// artifacts. Layout: <base>/<study>/<scope>/<artifact-id> with a
// sibling <artifact-id>.json metadata file, where scope is the trial id
// or "study" for study-level artifacts.
package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/copyleftdev/sweep/internal/hpo"
)

const metaSuffix = ".json"

// FSStore implements hpo.ArtifactStore on a local directory. Uploads
// use the temp-file + rename pattern so a crash never leaves a
// half-written artifact behind a valid metadata file.
type FSStore struct {
	baseDir string
}

// NewFSStore creates the store, creating baseDir if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

func scopeName(trialID int) string {
	if trialID < 0 {
		return "study"
	}
	return strconv.Itoa(trialID)
}

func validScope(studyName string) error {
	if studyName == "" || strings.ContainsAny(studyName, "/\\") || studyName == "." || studyName == ".." {
		return fmt.Errorf("artifact: invalid study name %q", studyName)
	}
	return nil
}

// Upload implements hpo.ArtifactStore.
func (fs *FSStore) Upload(studyName string, trialID int, mimeType, encoding string, r io.Reader) (string, error) {
	if err := validScope(studyName); err != nil {
		return "", err
	}
	dir := filepath.Join(fs.baseDir, studyName, scopeName(trialID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifact: create scope directory: %w", err)
	}

	id := uuid.NewString()
	tmp := filepath.Join(dir, id+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("artifact: create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("artifact: write content: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("artifact: close temp file: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, id)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("artifact: finalize content: %w", err)
	}

	meta := hpo.ArtifactMeta{ID: id, MimeType: mimeType, Encoding: encoding}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("artifact: encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+metaSuffix), data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write metadata: %w", err)
	}
	return id, nil
}

// List implements hpo.ArtifactStore.
func (fs *FSStore) List(studyName string, trialID int) ([]hpo.ArtifactMeta, error) {
	if err := validScope(studyName); err != nil {
		return nil, err
	}
	dir := filepath.Join(fs.baseDir, studyName, scopeName(trialID))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: scan scope directory: %w", err)
	}

	var metas []hpo.ArtifactMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("artifact: read metadata: %w", err)
		}
		var meta hpo.ArtifactMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("artifact: decode metadata %q: %w", entry.Name(), err)
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Download implements hpo.ArtifactStore. The artifact id is searched
// across every scope of the study.
func (fs *FSStore) Download(studyName, artifactID string, dst io.Writer) error {
	if err := validScope(studyName); err != nil {
		return err
	}
	if artifactID == "" || strings.ContainsAny(artifactID, "/\\") {
		return fmt.Errorf("artifact: invalid artifact id %q", artifactID)
	}

	studyDir := filepath.Join(fs.baseDir, studyName)
	scopes, err := os.ReadDir(studyDir)
	if os.IsNotExist(err) {
		return hpo.WrapErrorf(hpo.ErrNotFound, "artifact %q", artifactID)
	}
	if err != nil {
		return fmt.Errorf("artifact: scan study directory: %w", err)
	}

	for _, scope := range scopes {
		if !scope.IsDir() {
			continue
		}
		path := filepath.Join(studyDir, scope.Name(), artifactID)
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("artifact: open content: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(dst, f); err != nil {
			return fmt.Errorf("artifact: stream content: %w", err)
		}
		return nil
	}
	return hpo.WrapErrorf(hpo.ErrNotFound, "artifact %q", artifactID)
}
