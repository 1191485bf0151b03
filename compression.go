package hisescript

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/cryguy/hisescript/internal/core"
)

const maxDecompressedSize = 16 * 1024 * 1024 // 16 MB

// CompressScript packs script source into a base64 brotli blob.
func CompressScript(source string) (string, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := io.WriteString(w, source); err != nil {
		return "", fmt.Errorf("compressing script: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compressing script: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecompressScript reverses CompressScript. Malformed blobs produce a
// LoadError.
func DecompressScript(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", loadError(err, "invalid script blob: %v", err)
	}
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return "", loadError(err, "decompressing script: %v", err)
	}
	if len(out) > maxDecompressedSize {
		return "", loadError(nil, "decompressed script exceeds %d bytes", maxDecompressedSize)
	}
	return string(out), nil
}

func loadError(cause error, format string, args ...any) error {
	se := core.NewScriptError(core.LoadError, core.CodeLocation{}, format, args...)
	se.Err = cause
	return se
}
