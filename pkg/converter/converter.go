package converter

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

// Converter performs the actual document transformation. Both calls block
// until the external tool has finished.
type Converter interface {
	// ConvertInline converts an in-memory document and returns the converted bytes.
	ConvertInline(ctx context.Context, data []byte) ([]byte, error)

	// ConvertFile converts sourcePath, writing the result into outputDir.
	ConvertFile(ctx context.Context, sourcePath, outputDir string) error
}

// Funcs adapts a pair of functions to Converter. A nil field fails the call.
type Funcs struct {
	Inline func(ctx context.Context, data []byte) ([]byte, error)
	File   func(ctx context.Context, sourcePath, outputDir string) error
}

var errNotSupported = errors.New("conversion not supported")

func (f Funcs) ConvertInline(ctx context.Context, data []byte) ([]byte, error) {
	if f.Inline == nil {
		return nil, errors.Wrap(errNotSupported, "inline")
	}
	return f.Inline(ctx, data)
}

func (f Funcs) ConvertFile(ctx context.Context, sourcePath, outputDir string) error {
	if f.File == nil {
		return errors.Wrap(errNotSupported, "file")
	}
	return f.File(ctx, sourcePath, outputDir)
}

// DecodeBase64 decodes a standard-encoded payload, ignoring surrounding whitespace.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, errors.Wrap(err, "decode base64")
	}
	return data, nil
}

// EncodeBase64 is the inverse of DecodeBase64.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
