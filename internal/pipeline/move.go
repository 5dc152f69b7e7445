package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// moveToDir relocates an ingested source file, disambiguating name
// collisions with a timestamp suffix. Rename is tried first; a copy
// plus remove covers cross-device destinations.
func moveToDir(srcPath, dstDir string) (string, error) {
	if strings.TrimSpace(dstDir) == "" {
		return "", fmt.Errorf("destination directory is empty")
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}

	base := filepath.Base(srcPath)
	dstPath := filepath.Join(dstDir, base)
	if _, err := os.Stat(dstPath); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dstPath = filepath.Join(dstDir, fmt.Sprintf("%s-%d%s", stem, time.Now().UnixNano(), ext))
	}

	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("copy to destination: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return "", err
	}
	if err := os.Remove(srcPath); err != nil {
		return "", fmt.Errorf("remove source after copy: %w", err)
	}
	return dstPath, nil
}
