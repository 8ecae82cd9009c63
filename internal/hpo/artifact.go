package hpo

import "io"

// ArtifactMeta describes one stored artifact.
type ArtifactMeta struct {
	ID       string `json:"id"`
	MimeType string `json:"mimetype"`
	Encoding string `json:"encoding"`
}

// ArtifactStore is the blob side channel for attaching result files to
// trials. It is pure I/O and never participates in optimization logic.
// trialID < 0 scopes an operation to the study itself rather than a
// trial.
type ArtifactStore interface {
	// Upload stores the content of r and returns a new artifact id.
	Upload(studyName string, trialID int, mimeType, encoding string, r io.Reader) (string, error)

	// List returns metadata for every artifact in the given scope.
	List(studyName string, trialID int) ([]ArtifactMeta, error)

	// Download streams an artifact's content into dst.
	Download(studyName, artifactID string, dst io.Writer) error
}
