// Package asset stores downloaded element files on local disk.
package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"gallery/pkg/utils"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrIntegrity is wrapped by every Verify failure.
var ErrIntegrity = errors.New("asset: integrity check failed")

// Path returns where an asset downloaded from downloadURL is stored:
// root/<last URL path segment>/fileName.
func Path(root, downloadURL, fileName string) (string, error) {
	if fileName == "" {
		return "", errors.New("asset: empty file name")
	}
	if fileName != filepath.Base(fileName) {
		return "", fmt.Errorf("asset: file name %q must not contain a path", fileName)
	}
	segment, err := utils.LastPathSegment(downloadURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, segment, fileName), nil
}

// Save writes body to the asset path unless a file already exists there.
// It reports true both when it wrote and when the file was already present.
// The body goes to a temporary file first and is renamed into place, so a
// failed write never leaves a file behind.
func Save(root, downloadURL, fileName string, body []byte) (bool, error) {
	target, err := Path(root, downloadURL, fileName)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(target); err == nil {
		return true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", target, err)
	}

	if err := writeAtomic(target, body); err != nil {
		return false, err
	}
	return true, nil
}

// Replace overwrites the asset unconditionally. It is the repair path after
// a failed Verify.
func Replace(root, downloadURL, fileName string, body []byte) error {
	target, err := Path(root, downloadURL, fileName)
	if err != nil {
		return err
	}
	return writeAtomic(target, body)
}

func writeAtomic(target string, body []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename into %s: %w", target, err)
	}
	return nil
}

// Expect describes what a stored asset must look like. Zero fields are not
// checked.
type Expect struct {
	MinBytes   int64
	SHA256     string
	MIMEPrefix string // e.g. "image/"
}

// Verify checks an existing asset against want.
func Verify(path string, want Expect) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 || info.Size() < want.MinBytes {
		return fmt.Errorf("%s has %d bytes: %w", path, info.Size(), ErrIntegrity)
	}

	if want.MIMEPrefix != "" {
		mt, err := mimetype.DetectFile(path)
		if err != nil {
			return fmt.Errorf("detect type of %s: %w", path, err)
		}
		if !strings.HasPrefix(mt.String(), want.MIMEPrefix) {
			return fmt.Errorf("%s is %s, want %s*: %w", path, mt.String(), want.MIMEPrefix, ErrIntegrity)
		}
	}

	if want.SHA256 != "" {
		sum, err := fileSHA256(path)
		if err != nil {
			return err
		}
		if !strings.EqualFold(sum, want.SHA256) {
			return fmt.Errorf("%s sha256 %s: %w", path, sum, ErrIntegrity)
		}
	}
	return nil
}

// Detect returns the MIME type sniffed from body.
func Detect(body []byte) string {
	return mimetype.Detect(body).String()
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
