package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WritePayload writes the run result as a write-once JSON file in dir and
// returns the file path. An existing payload for the same image is never
// overwritten; the run ID in the name keeps reruns side by side.
func WritePayload(result *Result, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", payloadStem(result.ImagePath), result.RunID)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create payload file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("failed to write payload: %w", err)
	}
	return path, nil
}

func payloadStem(imagePath string) string {
	if imagePath == "" {
		return "labels"
	}
	base := filepath.Base(imagePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
