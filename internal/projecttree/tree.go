// Package projecttree maintains the nested-set encoding of the project
// forest and answers ancestor/descendant queries against it.
package projecttree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	apperrors "github.com/eWorkbench/eWorkbench-sub000/pkg/errors"
	"github.com/eWorkbench/eWorkbench-sub000/pkg/logger"
	"github.com/eWorkbench/eWorkbench-sub000/pkg/metrics"
)

// rebuildMu serialises tree-structural writes. The nested-set columns are a
// shared encoding across every project; concurrent rebuilds or a rebuild
// racing a parent reassignment would leave inconsistent lft/rght indices.
var rebuildMu sync.Mutex

// Tree answers hierarchy queries over the project forest.
type Tree struct {
	db  *gorm.DB
	log *zap.Logger
}

// New constructs a Tree backed by the provided database.
func New(db *gorm.DB) (*Tree, error) {
	if db == nil {
		return nil, errors.New("project tree: db is required")
	}
	return &Tree{db: db, log: logger.WithModule("projecttree")}, nil
}

// DescendantsOf returns every project reachable by following child links
// transitively, optionally including the project itself. Backed by a
// nested-set range query, so deep or wide trees resolve in one round trip.
func (t *Tree) DescendantsOf(ctx context.Context, projectID string, includeSelf bool) ([]string, error) {
	ctx = ensureContext(ctx)

	var project models.Project
	if err := t.db.WithContext(ctx).
		Select("id", "tree_id", "lft", "rght").
		First(&project, "id = ?", projectID).Error; err != nil {
		return nil, fmt.Errorf("project tree: load project: %w", err)
	}

	query := t.db.WithContext(ctx).Model(&models.Project{}).
		Where("tree_id = ?", project.TreeID)
	if includeSelf {
		query = query.Where("lft >= ? AND rght <= ?", project.Lft, project.Rght)
	} else {
		query = query.Where("lft > ? AND rght < ?", project.Lft, project.Rght)
	}

	var ids []string
	if err := query.Order("lft ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("project tree: descendants: %w", err)
	}
	return ids, nil
}

// AncestorsOf returns the chain of ancestors ordered nearest to root.
func (t *Tree) AncestorsOf(ctx context.Context, projectID string) ([]string, error) {
	ctx = ensureContext(ctx)

	var project models.Project
	if err := t.db.WithContext(ctx).
		Select("id", "tree_id", "lft", "rght").
		First(&project, "id = ?", projectID).Error; err != nil {
		return nil, fmt.Errorf("project tree: load project: %w", err)
	}

	var ids []string
	if err := t.db.WithContext(ctx).Model(&models.Project{}).
		Where("tree_id = ? AND lft < ? AND rght > ?", project.TreeID, project.Lft, project.Rght).
		Order("lft DESC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("project tree: ancestors: %w", err)
	}
	return ids, nil
}

// ValidateNoCycle fails when assigning newParentID as the parent of
// projectID would create a cycle. It walks the parent chain of the proposed
// parent, so it stays correct even when the nested-set encoding has not been
// rebuilt yet for an in-flight mutation. The check never mutates state.
func (t *Tree) ValidateNoCycle(ctx context.Context, projectID, newParentID string) error {
	ctx = ensureContext(ctx)

	if newParentID == "" {
		return nil
	}
	if newParentID == projectID {
		return apperrors.NewValidation("project cannot be its own parent")
	}

	seen := map[string]struct{}{projectID: {}}
	current := newParentID
	for current != "" {
		if _, ok := seen[current]; ok {
			return apperrors.NewValidation("project cannot be moved below one of its own descendants")
		}
		seen[current] = struct{}{}

		var row struct{ ParentID *string }
		if err := t.db.WithContext(ctx).Model(&models.Project{}).
			Select("parent_id").
			Where("id = ?", current).
			Take(&row).Error; err != nil {
			return fmt.Errorf("project tree: walk parents: %w", err)
		}
		if row.ParentID == nil {
			break
		}
		current = *row.ParentID
	}

	return nil
}

// Rebuild recomputes the nested-set columns for every tree in the forest
// from the parent pointers. It must run after any structural deletion or
// parent reassignment; removing a node shifts the encoding of its siblings.
func (t *Tree) Rebuild(ctx context.Context) error {
	ctx = ensureContext(ctx)

	rebuildMu.Lock()
	defer rebuildMu.Unlock()

	start := time.Now()

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var projects []models.Project
		if err := tx.Select("id", "parent_id", "created_at").
			Order("created_at ASC, id ASC").
			Find(&projects).Error; err != nil {
			return fmt.Errorf("load projects: %w", err)
		}

		children := make(map[string][]string, len(projects))
		var roots []string
		byID := make(map[string]struct{}, len(projects))
		for _, p := range projects {
			byID[p.ID] = struct{}{}
		}
		for _, p := range projects {
			if p.ParentID == nil {
				roots = append(roots, p.ID)
				continue
			}
			if _, ok := byID[*p.ParentID]; !ok {
				// dangling parent reference, treat as root
				roots = append(roots, p.ID)
				continue
			}
			children[*p.ParentID] = append(children[*p.ParentID], p.ID)
		}
		sort.Strings(roots)

		visited := make(map[string]struct{}, len(projects))

		var walk func(id, treeID string, depth, counter int) (int, error)
		walk = func(id, treeID string, depth, counter int) (int, error) {
			if _, ok := visited[id]; ok {
				return 0, fmt.Errorf("cycle detected at project %s", id)
			}
			visited[id] = struct{}{}

			lft := counter
			counter++
			for _, child := range children[id] {
				var err error
				counter, err = walk(child, treeID, depth+1, counter)
				if err != nil {
					return 0, err
				}
			}
			rght := counter
			counter++

			if err := tx.Model(&models.Project{}).Where("id = ?", id).Updates(map[string]any{
				"tree_id": treeID,
				"lft":     lft,
				"rght":    rght,
				"depth":   depth,
			}).Error; err != nil {
				return 0, fmt.Errorf("update encoding for %s: %w", id, err)
			}
			return counter, nil
		}

		for _, root := range roots {
			if _, err := walk(root, root, 0, 1); err != nil {
				return err
			}
		}

		if len(visited) != len(projects) {
			return fmt.Errorf("rebuild touched %d of %d projects", len(visited), len(projects))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("project tree: rebuild: %w", err)
	}

	metrics.TreeRebuilds.Inc()
	metrics.TreeRebuildDuration.Observe(time.Since(start).Seconds())
	t.log.Debug("project tree rebuilt", zap.Duration("took", time.Since(start)))

	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
