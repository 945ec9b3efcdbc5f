package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// The blob store keeps raw audio for store-and-forward voice messages; live
// push-to-talk never touches it.

// UploadBlob writes the bytes and returns a publicly fetchable URL.
func UploadBlob(data []byte, extension string) (string, error) {
	basepath := viper.GetString("blob.path")
	if err := os.MkdirAll(basepath, 0o755); err != nil {
		return "", fmt.Errorf("unable to prepare blob directory: %v", err)
	}

	name := uuid.NewString()
	if len(extension) > 0 {
		name = fmt.Sprintf("%s.%s", name, extension)
	}

	if err := os.WriteFile(filepath.Join(basepath, name), data, 0o644); err != nil {
		return "", fmt.Errorf("unable to persist blob: %v", err)
	}

	return fmt.Sprintf("%s/api/blobs/%s", viper.GetString("blob.base_url"), name), nil
}

// OpenBlob resolves a stored blob by name, refusing path escapes.
func OpenBlob(name string) (string, error) {
	if filepath.Base(name) != name {
		return "", fmt.Errorf("invalid blob name")
	}

	path := filepath.Join(viper.GetString("blob.path"), name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}

	return path, nil
}

// DeleteBlob drops the stored bytes; missing files are not an error since the
// metadata row is the authority.
func DeleteBlob(name string) {
	if filepath.Base(name) != name {
		return
	}
	_ = os.Remove(filepath.Join(viper.GetString("blob.path"), name))
}
