package projecttree_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/database/testutil"
	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	"github.com/eWorkbench/eWorkbench-sub000/internal/projecttree"
	apperrors "github.com/eWorkbench/eWorkbench-sub000/pkg/errors"
)

func newTestTree(t *testing.T) (*gorm.DB, *projecttree.Tree) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	tree, err := projecttree.New(db)
	require.NoError(t, err)
	return db, tree
}

func mustCreateProject(t *testing.T, db *gorm.DB, name string, parentID *string) *models.Project {
	t.Helper()

	project := &models.Project{Name: name, ParentID: parentID, State: models.ProjectStateInitialized}
	require.NoError(t, db.Create(project).Error)
	return project
}

func TestTree_DescendantsOfDeepChain(t *testing.T) {
	db, tree := newTestTree(t)
	ctx := context.Background()

	root := mustCreateProject(t, db, "root", nil)
	l1 := mustCreateProject(t, db, "level-1", &root.ID)
	l2 := mustCreateProject(t, db, "level-2", &l1.ID)
	l3 := mustCreateProject(t, db, "level-3", &l2.ID)
	l4 := mustCreateProject(t, db, "level-4", &l3.ID)
	mustCreateProject(t, db, "other-root", nil)

	require.NoError(t, tree.Rebuild(ctx))

	ids, err := tree.DescendantsOf(ctx, root.ID, true)
	require.NoError(t, err)
	require.Equal(t, []string{root.ID, l1.ID, l2.ID, l3.ID, l4.ID}, ids)

	ids, err = tree.DescendantsOf(ctx, root.ID, false)
	require.NoError(t, err)
	require.Equal(t, []string{l1.ID, l2.ID, l3.ID, l4.ID}, ids)

	ids, err = tree.DescendantsOf(ctx, l4.ID, false)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestTree_DescendantsOfStaysInsideOwnTree(t *testing.T) {
	db, tree := newTestTree(t)
	ctx := context.Background()

	rootA := mustCreateProject(t, db, "root-a", nil)
	childA := mustCreateProject(t, db, "child-a", &rootA.ID)
	rootB := mustCreateProject(t, db, "root-b", nil)
	childB := mustCreateProject(t, db, "child-b", &rootB.ID)

	require.NoError(t, tree.Rebuild(ctx))

	ids, err := tree.DescendantsOf(ctx, rootA.ID, true)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{rootA.ID, childA.ID}, ids)
	require.NotContains(t, ids, rootB.ID)
	require.NotContains(t, ids, childB.ID)
}

func TestTree_AncestorsOfOrdersNearestToRoot(t *testing.T) {
	db, tree := newTestTree(t)
	ctx := context.Background()

	root := mustCreateProject(t, db, "root", nil)
	mid := mustCreateProject(t, db, "mid", &root.ID)
	leaf := mustCreateProject(t, db, "leaf", &mid.ID)

	require.NoError(t, tree.Rebuild(ctx))

	ids, err := tree.AncestorsOf(ctx, leaf.ID)
	require.NoError(t, err)
	require.Equal(t, []string{mid.ID, root.ID}, ids)

	ids, err = tree.AncestorsOf(ctx, root.ID)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestTree_ValidateNoCycle(t *testing.T) {
	db, tree := newTestTree(t)
	ctx := context.Background()

	root := mustCreateProject(t, db, "root", nil)
	mid := mustCreateProject(t, db, "mid", &root.ID)
	leaf := mustCreateProject(t, db, "leaf", &mid.ID)

	require.NoError(t, tree.Rebuild(ctx))

	// Self-parenting and descending below a descendant are rejected.
	err := tree.ValidateNoCycle(ctx, root.ID, root.ID)
	require.True(t, apperrors.IsValidation(err))

	err = tree.ValidateNoCycle(ctx, root.ID, leaf.ID)
	require.True(t, apperrors.IsValidation(err))

	err = tree.ValidateNoCycle(ctx, mid.ID, leaf.ID)
	require.True(t, apperrors.IsValidation(err))

	// Moving a leaf elsewhere is fine.
	require.NoError(t, tree.ValidateNoCycle(ctx, leaf.ID, root.ID))
	require.NoError(t, tree.ValidateNoCycle(ctx, leaf.ID, ""))
}

func TestTree_ValidateNoCycleIgnoresStaleEncoding(t *testing.T) {
	db, tree := newTestTree(t)
	ctx := context.Background()

	root := mustCreateProject(t, db, "root", nil)
	child := mustCreateProject(t, db, "child", &root.ID)

	// No rebuild yet: the nested-set columns are all zero, but the check
	// walks parent pointers and must still reject the cycle.
	err := tree.ValidateNoCycle(ctx, root.ID, child.ID)
	require.True(t, apperrors.IsValidation(err))
}

func TestTree_RebuildAssignsNestedSetColumns(t *testing.T) {
	db, tree := newTestTree(t)
	ctx := context.Background()

	root := mustCreateProject(t, db, "root", nil)
	left := mustCreateProject(t, db, "left", &root.ID)
	right := mustCreateProject(t, db, "right", &root.ID)
	grandchild := mustCreateProject(t, db, "grandchild", &left.ID)

	require.NoError(t, tree.Rebuild(ctx))

	load := func(id string) models.Project {
		var p models.Project
		require.NoError(t, db.First(&p, "id = ?", id).Error)
		return p
	}

	r := load(root.ID)
	l := load(left.ID)
	g := load(grandchild.ID)
	rt := load(right.ID)

	require.Equal(t, root.ID, r.TreeID)
	require.Equal(t, root.ID, l.TreeID)
	require.Equal(t, 0, r.Depth)
	require.Equal(t, 1, l.Depth)
	require.Equal(t, 2, g.Depth)

	// Interval containment mirrors ancestry.
	require.Less(t, r.Lft, l.Lft)
	require.Greater(t, r.Rght, l.Rght)
	require.Less(t, l.Lft, g.Lft)
	require.Greater(t, l.Rght, g.Rght)
	require.Less(t, r.Lft, rt.Lft)
	require.Greater(t, r.Rght, rt.Rght)
}

func TestTree_RebuildAfterReparenting(t *testing.T) {
	db, tree := newTestTree(t)
	ctx := context.Background()

	rootA := mustCreateProject(t, db, "root-a", nil)
	rootB := mustCreateProject(t, db, "root-b", nil)
	child := mustCreateProject(t, db, "child", &rootA.ID)

	require.NoError(t, tree.Rebuild(ctx))

	require.NoError(t, db.Model(&models.Project{}).
		Where("id = ?", child.ID).
		Update("parent_id", rootB.ID).Error)
	require.NoError(t, tree.Rebuild(ctx))

	ids, err := tree.DescendantsOf(ctx, rootA.ID, false)
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = tree.DescendantsOf(ctx, rootB.ID, false)
	require.NoError(t, err)
	require.Equal(t, []string{child.ID}, ids)
}
