package generation

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/prompt"
)

// FileInvoker returns a fixed image from disk instead of calling the model.
// It backs the mock result mode used in development.
type FileInvoker struct {
	path   string
	logger *slog.Logger
}

// NewFileInvoker creates a mock invoker serving the file at path
func NewFileInvoker(path string, logger *slog.Logger) *FileInvoker {
	return &FileInvoker{path: path, logger: logger}
}

// Restore ignores its inputs and returns the mock image
func (f *FileInvoker) Restore(ctx context.Context, image []byte, mimeType string, doc prompt.Document, resolution domain.Resolution) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read mock result: %v", domain.ErrUpstreamGeneration, err)
	}

	f.logger.Info("Using mock restoration result",
		slog.String("path", f.path),
		slog.Int("size", len(data)),
	)

	return data, nil
}
