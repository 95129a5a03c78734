package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const anonymousUser = "anonymous"

func owner(userID string) string {
	if userID == "" {
		return anonymousUser
	}
	return userID
}

// UploadPrefix is the key prefix a job's uploaded inputs are stored under.
func UploadPrefix(userID, jobID string) string {
	return fmt.Sprintf("uploads/%s/%s/", owner(userID), jobID)
}

// ResultKey names a job's published output: processed_<base>_<unix>.<ext>,
// where base is the first input's name without extension and ext comes
// from the engine output.
func ResultKey(userID, jobID, firstInput, output string, at time.Time) string {
	base := strings.TrimSuffix(path.Base(firstInput), path.Ext(firstInput))
	if base == "" || base == "." || base == "/" {
		base = "input"
	}
	ext := strings.TrimPrefix(path.Ext(output), ".")
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf("results/%s/%s/processed_%s_%d.%s", owner(userID), jobID, base, at.Unix(), ext)
}
