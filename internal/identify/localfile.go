package identify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joestump/skillwatch/internal/classify"
	"github.com/joestump/skillwatch/internal/fingerprint"
)

// FileChange describes a changed local document.
type FileChange struct {
	Path           string
	URL            string
	OldHash        string
	NewHash        string
	Classification classify.Classification
	Summary        string
}

// CheckLocalFile fingerprints the raw bytes of path and compares them with
// storedHash. It returns nil when the file does not exist or is unchanged.
func CheckLocalFile(path, storedHash string) (*FileChange, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local file: %w", err)
	}

	hash := fingerprint.Bytes(data)
	if hash == storedHash {
		return nil, nil
	}

	summary := "local file changed"
	if storedHash == "" {
		summary = "initial capture"
	}
	return &FileChange{
		Path:           path,
		URL:            "file://" + path,
		OldHash:        storedHash,
		NewHash:        hash,
		Classification: classify.Additive,
		Summary:        summary,
	}, nil
}
