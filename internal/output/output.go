// Package output persists heat map layers and the compact technique dataset
package output

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/heatmap"
)

// Writer persists both layers and the dataset
type Writer interface {
	WriteLayer(ctx context.Context, dim attack.Dimension, layer *heatmap.Layer) (string, error)
	WriteDataset(ctx context.Context, techniques []attack.Technique) (string, error)
}

// LayerFileName is the object or file name a dimension's layer is stored under
func LayerFileName(dim attack.Dimension) string {
	return fmt.Sprintf("%s_layer.json", dim)
}

// New returns the writer selected by output.backend
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (Writer, error) {
	switch cfg.Output.Backend {
	case "", "file":
		return NewFileWriter(cfg.Output.LayerDir, cfg.Output.DatasetPath, log), nil
	case "s3":
		return NewObjectWriter(ctx, cfg.ObjectStore, log)
	default:
		return nil, fmt.Errorf("unknown output backend %q", cfg.Output.Backend)
	}
}

func encodeLayer(layer *heatmap.Layer) ([]byte, error) {
	data, err := json.MarshalIndent(layer, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode layer: %w", err)
	}
	return data, nil
}
