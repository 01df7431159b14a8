package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wgomg/pulsegen/internal/utils"
)

// DirSource reads <root>/<app_id>/<date>.json files holding review arrays.
type DirSource struct {
	root   string
	logger *utils.Logger
}

func NewDirSource(root string, logger *utils.Logger) *DirSource {
	return &DirSource{root: root, logger: logger.Named("feedback")}
}

// ResolveApp accepts a known alias or any app id that has a directory.
func (d *DirSource) ResolveApp(_ context.Context, name string, reqID string) (string, error) {
	candidates := []string{strings.TrimSpace(name)}
	if id, ok := LookupAlias(name); ok {
		candidates = append([]string{id}, candidates...)
	}

	for _, id := range candidates {
		if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
			continue
		}
		info, err := os.Stat(filepath.Join(d.root, id))
		if err == nil && info.IsDir() {
			d.logger.Debug(&reqID, "Resolved app '%s' to %s", name, id)
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAppNotFound, name)
}

// Reviews returns nothing for a day without a file.
func (d *DirSource) Reviews(_ context.Context, appID, date string, reqID string) ([]Review, error) {
	path := filepath.Join(d.root, appID, date+".json")

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		d.logger.Debug(&reqID, "No review file at %s", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reviews %s: %w", path, err)
	}

	var reviews []Review
	if err := json.Unmarshal(data, &reviews); err != nil {
		return nil, fmt.Errorf("failed to parse reviews %s: %w", path, err)
	}

	reviews = keepDay(reviews, date)
	d.logger.Info(&reqID, "Loaded %d reviews for %s on %s", len(reviews), appID, date)
	return reviews, nil
}
