// Package inventory loads the organisation's asset list.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"gopkg.in/yaml.v3"
)

// ErrInventoryUnavailable is returned when the asset file is missing or unreadable.
var ErrInventoryUnavailable = errors.New("asset inventory unavailable")

// FileInventory reads assets from a JSON or YAML file on every call, so edits
// apply to the next assessment.
type FileInventory struct {
	path string
}

var _ ports.AssetInventory = (*FileInventory)(nil)

// NewFileInventory creates an inventory backed by path.
func NewFileInventory(path string) *FileInventory {
	return &FileInventory{path: path}
}

// assetFile accepts either a bare list or an object with an assets key.
type assetFile struct {
	Assets []domain.Asset `json:"assets" yaml:"assets"`
}

func (f *FileInventory) Assets(ctx context.Context) ([]domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}

	assets, err := decode(filepath.Ext(f.path), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInventoryUnavailable, f.path, err)
	}
	for i, a := range assets {
		if strings.TrimSpace(a.ID) == "" {
			return nil, fmt.Errorf("%w: asset #%d has no id", ErrInventoryUnavailable, i)
		}
	}
	return assets, nil
}

func decode(ext string, data []byte) ([]domain.Asset, error) {
	var list []domain.Asset
	var wrapped assetFile

	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse JSON inventory: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &list); err == nil {
			return list, nil
		}
		if err := yaml.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse YAML inventory: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported inventory format: %s (supported: .json, .yaml, .yml)", ext)
	}
	return wrapped.Assets, nil
}
