package app

import (
	"errors"

	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/permissions"
	"github.com/eWorkbench/eWorkbench-sub000/internal/projecttree"
	"github.com/eWorkbench/eWorkbench-sub000/internal/services"
)

// Engine bundles the permission resolver and the services built on top of
// it. Embedders construct one Engine per database handle and share it
// across goroutines; all components are safe for concurrent use.
type Engine struct {
	DB         *gorm.DB
	Tree       *projecttree.Tree
	Resolver   *permissions.Resolver
	Audit      *services.AuditService
	Roles      *services.RoleService
	Projects   *services.ProjectService
	Privileges *services.PrivilegeService
	Entities   *services.EntityService
}

// NewEngine wires the full component stack over an opened database.
func NewEngine(db *gorm.DB) (*Engine, error) {
	if db == nil {
		return nil, errors.New("app: db is required")
	}

	tree, err := projecttree.New(db)
	if err != nil {
		return nil, err
	}

	resolver, err := permissions.NewResolver(db, tree)
	if err != nil {
		return nil, err
	}

	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	roles, err := services.NewRoleService(db, audit)
	if err != nil {
		return nil, err
	}
	projects, err := services.NewProjectService(db, tree, roles, audit)
	if err != nil {
		return nil, err
	}
	privileges, err := services.NewPrivilegeService(db, audit)
	if err != nil {
		return nil, err
	}
	entities, err := services.NewEntityService(db, resolver, privileges, audit)
	if err != nil {
		return nil, err
	}

	return &Engine{
		DB:         db,
		Tree:       tree,
		Resolver:   resolver,
		Audit:      audit,
		Roles:      roles,
		Projects:   projects,
		Privileges: privileges,
		Entities:   entities,
	}, nil
}
