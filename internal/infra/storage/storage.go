// Package storage tracks on-disk model-file usage against a configured
// budget and evicts the least valuable models when over budget, the way
// the lifecycle manager evicts in-memory instances but for disk bytes.
package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
	"github.com/tutu-network/inferencegate/internal/metrics"
)

// Manager enforces a disk budget for the model root.
type Manager struct {
	modelRoot string
	maxBytes  int64
	registry  *registry.Registry
}

// New creates a storage manager rooted at modelRoot with a maxBytes budget.
func New(modelRoot string, maxBytes int64, reg *registry.Registry) *Manager {
	return &Manager{modelRoot: modelRoot, maxBytes: maxBytes, registry: reg}
}

// DiskUsage sums file sizes under the model root.
func (m *Manager) DiskUsage() (int64, error) {
	var total int64
	err := filepath.Walk(m.modelRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.DiskUsageBytes.Set(float64(total))
	return total, nil
}

// CanDownload reports whether bytes more would still fit the budget.
func (m *Manager) CanDownload(bytes int64) (bool, error) {
	used, err := m.DiskUsage()
	if err != nil {
		return false, fmt.Errorf("disk usage: %w", err)
	}
	return used+bytes <= m.maxBytes, nil
}

// EnforceLimit evicts local models, ordered failed-first then
// least-recently-used, until usage is back under budget. Pinned/default
// models are only evicted as a last resort — callers pass pinnedIDs to
// protect them, falling through to eviction only once nothing else
// remains.
func (m *Manager) EnforceLimit(pinnedIDs map[string]bool) error {
	used, err := m.DiskUsage()
	if err != nil {
		return err
	}
	if used <= m.maxBytes {
		return nil
	}

	models, err := m.registry.List("")
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	local := make([]domain.Model, 0, len(models))
	for _, mm := range models {
		if mm.LocalPath != "" {
			local = append(local, mm)
		}
	}

	// failed-first, then least-recently-used ascending.
	sort.SliceStable(local, func(i, j int) bool {
		fi, fj := local[i].Status == domain.ModelFailed, local[j].Status == domain.ModelFailed
		if fi != fj {
			return fi // failed sorts first
		}
		return local[i].LastUsedAt.Before(local[j].LastUsedAt)
	})

	// two passes: unpinned first, pinned only as a last resort.
	for _, pass := range []bool{false, true} {
		for _, mm := range local {
			if used <= m.maxBytes {
				return nil
			}
			isPinned := pinnedIDs[mm.ModelID]
			if isPinned != pass {
				continue
			}
			path := mm.LocalPath
			if !filepath.IsAbs(path) {
				path = filepath.Join(m.modelRoot, path)
			}
			size := mm.SizeBytes
			if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
				log.Printf("[storage] evict %s: remove %s: %v", mm.ModelID, path, err)
				continue
			}
			if err := m.registry.SetStatus(mm.ModelID, domain.ModelEvicted); err != nil {
				log.Printf("[storage] evict %s: update status: %v", mm.ModelID, err)
			}
			used -= size
		}
	}
	return nil
}
