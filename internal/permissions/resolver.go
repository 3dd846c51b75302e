package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	"github.com/eWorkbench/eWorkbench-sub000/internal/projecttree"
	"github.com/eWorkbench/eWorkbench-sub000/pkg/logger"
	"github.com/eWorkbench/eWorkbench-sub000/pkg/metrics"
)

// Result is the outcome of a set resolution: either the ALL sentinel or an
// explicit id set. A blanket result may still carry exclusions, because an
// object-level DENY is subtracted even from the system-wide grant path.
type Result struct {
	all      bool
	ids      map[string]struct{}
	excluded map[string]struct{}
}

// All reports whether the result is the unrestricted ALL sentinel with no
// exclusions.
func (r Result) All() bool {
	return r.all && len(r.excluded) == 0
}

// Contains reports whether the object id is in the permitted set.
func (r Result) Contains(id string) bool {
	if r.all {
		_, denied := r.excluded[id]
		return !denied
	}
	_, ok := r.ids[id]
	return ok
}

// IDs returns the explicit permitted ids in sorted order. For a blanket
// result it returns nil; callers must check All/Contains instead of
// enumerating.
func (r Result) IDs() []string {
	if r.all {
		return nil
	}
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Excluded returns the ids a blanket result subtracts, in sorted order. It
// is nil for explicit results, where the denied ids were already removed.
func (r Result) Excluded() []string {
	if !r.all || len(r.excluded) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.excluded))
	for id := range r.excluded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Apply narrows a query to the permitted set. A clean blanket result leaves
// the query untouched, a blanket with exclusions subtracts them, and an
// explicit result restricts to its ids. This is the only correct way to
// enumerate a result against a table: IDs alone loses the blanket case.
func (r Result) Apply(query *gorm.DB) *gorm.DB {
	if r.all {
		if len(r.excluded) == 0 {
			return query
		}
		return query.Where("id NOT IN ?", r.Excluded())
	}
	return query.Where("id IN ?", r.IDs())
}

// Empty reports whether no object is permitted.
func (r Result) Empty() bool {
	return !r.all && len(r.ids) == 0
}

// Resolver composes the project tree, the role assignment store, the model
// privilege store and the extension registry into authorization decisions.
//
// Resolution never fails with "access denied": absence from the result set
// is the denial. Errors signal broken lookups, not missing permissions.
type Resolver struct {
	db          *gorm.DB
	assignments *RoleAssignmentStore
	privileges  *ModelPrivilegeStore
	tree        *projecttree.Tree
	log         *zap.Logger
}

// NewResolver constructs a resolver over the shared database handle.
func NewResolver(db *gorm.DB, tree *projecttree.Tree) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("permission resolver: db is required")
	}
	if tree == nil {
		return nil, errors.New("permission resolver: project tree is required")
	}

	assignments, err := NewRoleAssignmentStore(db)
	if err != nil {
		return nil, err
	}
	privileges, err := NewModelPrivilegeStore(db)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		db:          db,
		assignments: assignments,
		privileges:  privileges,
		tree:        tree,
		log:         logger.WithModule("permissions"),
	}, nil
}

// ResolveSet computes the set of object ids of the given entity type on
// which the principal may perform the action.
//
// The steps run strictly in order; in particular the deny subtraction is
// computed from the full union of project-derived, object-level and
// extension grants. Short-circuiting on a project grant alone would skip the
// deny check and violate the deny-wins rule.
func (r *Resolver) ResolveSet(ctx context.Context, principal Principal, entityType string, action Action, scope *Scope) (Result, error) {
	ctx = ensureContext(ctx)

	desc, ok := EntityType(entityType)
	if !ok {
		return Result{}, fmt.Errorf("permission resolver: unknown entity type %q", entityType)
	}
	if !action.Valid() {
		return Result{}, fmt.Errorf("permission resolver: invalid action %q", action)
	}

	result, err := r.resolveSet(ctx, principal, desc, action, scope)
	if err != nil {
		r.log.Error("permission resolution failed",
			zap.String("entity_type", entityType),
			zap.String("action", string(action)),
			zap.Error(err))
	}
	r.observeSet(entityType, action, result, err)
	return result, err
}

func (r *Resolver) resolveSet(ctx context.Context, principal Principal, desc EntityDescriptor, action Action, scope *Scope) (Result, error) {
	// Anonymous principals never reach the stores.
	if principal.Anonymous() {
		return Result{}, nil
	}

	// Superusers bypass every later step, including the deny subtraction and
	// the soft-delete post-filter.
	if principal.Superuser {
		return Result{all: true}, nil
	}

	holders, err := r.assignments.PermissionHolders(ctx, principal, desc.Key, action, scope)
	if err != nil {
		return Result{}, err
	}

	granted := make(map[string]struct{})
	blanket := holders.All

	if !blanket && len(holders.ProjectIDs) > 0 {
		// A role on a project implies the same action on every descendant,
		// never on ancestors.
		projectIDs, err := r.expandProjects(ctx, holders.ProjectIDs, scope)
		if err != nil {
			return Result{}, err
		}
		if len(projectIDs) > 0 {
			var entityIDs []string
			if err := r.db.WithContext(ctx).Model(&models.EntityProject{}).
				Where("entity_type = ? AND project_id IN ?", desc.Key, projectIDs).
				Distinct().
				Pluck("entity_id", &entityIDs).Error; err != nil {
				return Result{}, fmt.Errorf("permission resolver: project grants: %w", err)
			}
			for _, id := range entityIDs {
				granted[id] = struct{}{}
			}
		}
	}

	allowIDs, err := r.privileges.AllowListed(ctx, desc.Key, action, principal.UserID)
	if err != nil {
		return Result{}, err
	}
	for _, id := range allowIDs {
		granted[id] = struct{}{}
	}

	for _, predicate := range extensionsFor(desc.Key, action) {
		extIDs, err := predicate(ctx, r.db, principal)
		if err != nil {
			return Result{}, fmt.Errorf("permission resolver: extension predicate: %w", err)
		}
		for _, id := range extIDs {
			granted[id] = struct{}{}
		}
	}

	denyIDs, err := r.privileges.DenyListed(ctx, desc.Key, action, principal.UserID)
	if err != nil {
		return Result{}, err
	}

	if blanket {
		excluded := make(map[string]struct{}, len(denyIDs))
		for _, id := range denyIDs {
			excluded[id] = struct{}{}
		}
		return r.applyLifecycleFilter(ctx, Result{all: true, excluded: excluded}, desc, action)
	}

	for _, id := range denyIDs {
		delete(granted, id)
	}

	return r.applyLifecycleFilter(ctx, Result{ids: granted}, desc, action)
}

// ResolveInstance reports whether the principal may perform the action on
// one object. It is a membership check over ResolveSet so that list and
// single-object decisions can never disagree.
func (r *Resolver) ResolveInstance(ctx context.Context, principal Principal, entityType string, action Action, objectID string, scope *Scope) (bool, error) {
	result, err := r.ResolveSet(ctx, principal, entityType, action, scope)
	if err != nil {
		metrics.InstanceChecks.WithLabelValues(entityType, string(action), "error").Inc()
		return false, err
	}

	allowed := result.Contains(objectID)
	if allowed {
		metrics.InstanceChecks.WithLabelValues(entityType, string(action), "allow").Inc()
	} else {
		metrics.InstanceChecks.WithLabelValues(entityType, string(action), "deny").Inc()
	}
	return allowed, nil
}

// expandProjects unions the descendant sets of the granted projects,
// including the projects themselves.
func (r *Resolver) expandProjects(ctx context.Context, projectIDs []string, scope *Scope) ([]string, error) {
	seen := make(map[string]struct{})
	for _, projectID := range projectIDs {
		ids, ok := scope.descendantSet(projectID)
		if !ok {
			var err error
			ids, err = r.tree.DescendantsOf(ctx, projectID, true)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// assignment pointing at a removed project, nothing to grant
					continue
				}
				return nil, err
			}
			scope.storeDescendantSet(projectID, ids)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// applyLifecycleFilter narrows trashable results to live objects and
// restorable results to soft-deleted ones. This is a post-filter over the
// already-denied-subtracted set, not part of the grant logic.
func (r *Resolver) applyLifecycleFilter(ctx context.Context, result Result, desc EntityDescriptor, action Action) (Result, error) {
	if action != ActionTrash && action != ActionRestore {
		return result, nil
	}
	if desc.SoftDeleteColumn == "" {
		return result, nil
	}

	wantDeleted := action == ActionRestore

	if result.all {
		// Materialise the blanket grant so the lifecycle filter can apply.
		var ids []string
		if err := r.db.WithContext(ctx).Table(desc.Table).
			Where(fmt.Sprintf("%s = ?", desc.SoftDeleteColumn), wantDeleted).
			Pluck("id", &ids).Error; err != nil {
			return Result{}, fmt.Errorf("permission resolver: lifecycle filter: %w", err)
		}
		filtered := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, denied := result.excluded[id]; denied {
				continue
			}
			filtered[id] = struct{}{}
		}
		return Result{ids: filtered}, nil
	}

	if len(result.ids) == 0 {
		return result, nil
	}

	candidates := make([]string, 0, len(result.ids))
	for id := range result.ids {
		candidates = append(candidates, id)
	}

	var ids []string
	if err := r.db.WithContext(ctx).Table(desc.Table).
		Where("id IN ?", candidates).
		Where(fmt.Sprintf("%s = ?", desc.SoftDeleteColumn), wantDeleted).
		Pluck("id", &ids).Error; err != nil {
		return Result{}, fmt.Errorf("permission resolver: lifecycle filter: %w", err)
	}

	filtered := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		filtered[id] = struct{}{}
	}
	return Result{ids: filtered}, nil
}

func (r *Resolver) observeSet(entityType string, action Action, result Result, err error) {
	outcome := "subset"
	switch {
	case err != nil:
		outcome = "error"
	case result.All():
		outcome = "all"
	case result.Empty():
		outcome = "empty"
	}
	metrics.Resolutions.WithLabelValues(entityType, string(action), outcome).Inc()
}
