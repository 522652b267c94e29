package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/burncloud/model-installer/pkg/errkind"
)

// Static is a Discoverer over a fixed list of models, used by the CLI for
// local catalog files and single-URL pulls.
type Static []DiscoveredModel

// LoadStatic reads a JSON array of DiscoveredModel from path.
func LoadStatic(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.IOError("read catalog", err)
	}
	var models Static
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, errkind.Configurationf("parse catalog %s: %v", path, err)
	}
	return models, nil
}

// Search returns the models matching every set field of req. Query matches
// case-insensitively against the name, display name and tags.
func (s Static) Search(ctx context.Context, req SearchRequest) ([]DiscoveredModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := strings.ToLower(strings.TrimSpace(req.Query))
	var out []DiscoveredModel
	for _, m := range s {
		if req.Type != "" && m.Type != req.Type {
			continue
		}
		if req.Provider != "" && !strings.EqualFold(m.Provider, req.Provider) {
			continue
		}
		if !hasTags(m.Tags, req.Tags) {
			continue
		}
		if query != "" && !matchesQuery(m, query) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func matchesQuery(m DiscoveredModel, query string) bool {
	if strings.Contains(strings.ToLower(m.Name), query) ||
		strings.Contains(strings.ToLower(m.DisplayName), query) {
		return true
	}
	return slices.ContainsFunc(m.Tags, func(tag string) bool {
		return strings.EqualFold(tag, query)
	})
}

func hasTags(have, want []string) bool {
	for _, w := range want {
		if !slices.ContainsFunc(have, func(h string) bool { return strings.EqualFold(h, w) }) {
			return false
		}
	}
	return true
}

func (s Static) String() string {
	return fmt.Sprintf("static catalog (%d models)", len(s))
}
