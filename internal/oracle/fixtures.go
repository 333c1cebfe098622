package oracle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"scopeshift/internal/domain"
)

// Fixtures answers every request with a canned response read from
// <Dir>/<stage>.json. It lets the pipeline run offline.
type Fixtures struct {
	Dir string
}

func (f Fixtures) Invoke(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := FixturePath(f.Dir, req.Stage)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no fixture for stage %s at %s", req.Stage, path)
		}
		return "", err
	}
	return string(data), nil
}

// FixturePath returns the file a stage's fixture is read from.
func FixturePath(dir string, stage domain.Stage) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, string(stage)+".json")
}
