package zoo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"modelzoo/internal/common/fsutil"
	"modelzoo/pkg/types"
)

// FolderZoo discovers gguf models under a directory tree. Multi-part files
// ("model-00001-of-00003.gguf") group into one descriptor whose id is the
// first part and whose size is the sum of all parts.
type FolderZoo struct {
	name string
	path string
}

// NewFolder validates the path and builds a folder zoo.
func NewFolder(name, path string) (*FolderZoo, error) {
	expanded, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("zoo %s: %w", name, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("zoo %s: %s is not a directory", name, abs)
	}
	return &FolderZoo{name: name, path: abs}, nil
}

func (z *FolderZoo) Name() string { return z.name }

func (z *FolderZoo) Catalog() ([]types.ModelDescriptor, error) {
	parts := map[string][]string{}
	err := filepath.WalkDir(z.path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".gguf") {
			return nil
		}
		base := multipartBase(strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())))
		parts[base] = append(parts[base], p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", z.path, err)
	}

	names := make([]string, 0, len(parts))
	for name := range parts {
		names = append(names, name)
	}
	sort.Strings(names)

	models := make([]types.ModelDescriptor, 0, len(names))
	for _, name := range names {
		files := parts[name]
		sort.Strings(files)
		var total int64
		for _, f := range files {
			fi, err := os.Stat(f)
			if err != nil {
				// Part vanished mid-scan; skip the whole model.
				total = -1
				break
			}
			total += fi.Size()
		}
		if total < 0 {
			continue
		}
		models = append(models, types.ModelDescriptor{
			ModelID:     files[0],
			ModelFormat: "gguf",
			ModelName:   name,
			ModelSize:   total,
			ZooName:     z.name,
		})
	}
	return models, nil
}

// multipartBase strips the "-00001-of-00003" style suffix, if present.
func multipartBase(stem string) string {
	if !strings.Contains(stem, "-of-") {
		return stem
	}
	if i := strings.Index(stem, "-00"); i > 0 {
		return stem[:i]
	}
	return stem
}
