// SPDX-License-Identifier: MIT

package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vodub/vodub/internal/fsutil"
)

// allowedExtensions is the upload whitelist. Anything else is rejected
// before a byte is written.
var allowedExtensions = map[string]bool{
	// video containers
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
	// audio-only inputs
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

const copyChunkSize = 1 << 20

// errUploadTooLarge aborts a copy that exceeds the configured cap.
var errUploadTooLarge = fmt.Errorf("upload exceeds size limit")

// sanitizeFilename reduces a client-supplied name to a safe basename:
// random 8-hex prefix, hostile characters replaced, extension kept.
func sanitizeFilename(name string) (string, error) {
	base := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(base))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("unsupported file type %q", ext)
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = unsafeFilenameChars.ReplaceAllString(stem, "_")
	if len(stem) > 100 {
		stem = stem[:100]
	}
	if stem == "" {
		stem = "upload"
	}

	var prefix [4]byte
	if _, err := rand.Read(prefix[:]); err != nil {
		return "", fmt.Errorf("generate upload prefix: %w", err)
	}
	return hex.EncodeToString(prefix[:]) + "_" + stem + ext, nil
}

// saveUpload streams one multipart file part into uploadDir, enforcing
// the byte cap chunk by chunk. The partial file is removed on any
// failure.
func saveUpload(part *multipart.Part, uploadDir string, maxBytes int64) (string, error) {
	name, err := sanitizeFilename(part.FileName())
	if err != nil {
		return "", err
	}

	dest, err := fsutil.ConfineRelPath(uploadDir, name)
	if err != nil {
		return "", fmt.Errorf("upload path rejected: %w", err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	written, err := copyCapped(f, part, maxBytes)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	if written == 0 {
		os.Remove(dest)
		return "", fmt.Errorf("uploaded file is empty")
	}
	return dest, nil
}

func copyCapped(dst io.Writer, src io.Reader, maxBytes int64) (int64, error) {
	buf := make([]byte, copyChunkSize)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > maxBytes {
				return written, errUploadTooLarge
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("write upload: %w", werr)
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("read upload: %w", err)
		}
	}
}
