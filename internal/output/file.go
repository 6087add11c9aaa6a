package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/heatmap"
)

// FileWriter writes layers as <dir>/<dimension>_layer.json
type FileWriter struct {
	dir         string
	datasetPath string
	logger      *logger.Logger
}

func NewFileWriter(dir, datasetPath string, log *logger.Logger) *FileWriter {
	if log == nil {
		log = logger.NewNop()
	}
	if dir == "" {
		dir = "."
	}
	return &FileWriter{
		dir:         dir,
		datasetPath: datasetPath,
		logger:      log.WithComponent("output"),
	}
}

// LayerPath is where the layer for dim is written
func (w *FileWriter) LayerPath(dim attack.Dimension) string {
	return filepath.Join(w.dir, LayerFileName(dim))
}

func (w *FileWriter) WriteLayer(ctx context.Context, dim attack.Dimension, layer *heatmap.Layer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := encodeLayer(layer)
	if err != nil {
		return "", err
	}

	p := w.LayerPath(dim)
	if err := writeFileAtomic(p, data); err != nil {
		return "", fmt.Errorf("failed to write %s layer: %w", dim, err)
	}

	w.logger.Infow("Saved heat map layer", "dimension", dim, "path", p, "techniques", len(layer.Techniques))
	return p, nil
}

// WriteDataset writes the compact dataset; an empty dataset path disables it
func (w *FileWriter) WriteDataset(ctx context.Context, techniques []attack.Technique) (string, error) {
	if w.datasetPath == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := EncodeDataset(techniques, time.Now())
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(w.datasetPath, data); err != nil {
		return "", fmt.Errorf("failed to write dataset: %w", err)
	}

	w.logger.Infow("Saved optimized dataset", "path", w.datasetPath, "techniques", len(techniques), "bytes", len(data))
	return w.datasetPath, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
