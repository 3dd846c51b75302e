package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/database/testutil"
	"github.com/eWorkbench/eWorkbench-sub000/internal/models"
	"github.com/eWorkbench/eWorkbench-sub000/internal/permissions"
	"github.com/eWorkbench/eWorkbench-sub000/internal/projecttree"
	apperrors "github.com/eWorkbench/eWorkbench-sub000/pkg/errors"
)

type entityServiceFixture struct {
	db       *gorm.DB
	tree     *projecttree.Tree
	entities *EntityService
	projects *ProjectService
}

func setupEntityServiceTest(t *testing.T) *entityServiceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	tree, err := projecttree.New(db)
	require.NoError(t, err)
	resolver, err := permissions.NewResolver(db, tree)
	require.NoError(t, err)
	privileges, err := NewPrivilegeService(db, nil)
	require.NoError(t, err)
	entities, err := NewEntityService(db, resolver, privileges, nil)
	require.NoError(t, err)
	roles, err := NewRoleService(db, nil)
	require.NoError(t, err)
	projects, err := NewProjectService(db, tree, roles, nil)
	require.NoError(t, err)

	return &entityServiceFixture{db: db, tree: tree, entities: entities, projects: projects}
}

func TestEntityService_CreateTaskSeedsOwnerPrivilege(t *testing.T) {
	f := setupEntityServiceTest(t)
	ctx := context.Background()

	owner := mustCreateTestUser(t, f.db, "owner")
	principal := permissions.Principal{UserID: owner.ID}

	task, err := f.entities.CreateTask(ctx, principal, CreateTaskInput{Title: "write report"})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)

	var privilege models.ModelPrivilege
	require.NoError(t, f.db.First(&privilege,
		"entity_type = ? AND entity_id = ? AND user_id = ?",
		models.EntityTypeTask, task.ID, owner.ID).Error)
	require.Equal(t, models.PrivilegeAllow, privilege.FullAccess)

	// The creator can immediately see and edit the task.
	loaded, err := f.entities.GetTask(ctx, principal, task.ID, nil)
	require.NoError(t, err)
	require.Equal(t, "write report", loaded.Title)
}

func TestEntityService_CreateTaskRequiresAuthentication(t *testing.T) {
	f := setupEntityServiceTest(t)

	_, err := f.entities.CreateTask(context.Background(), permissions.Principal{}, CreateTaskInput{Title: "x"})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestEntityService_VisibilitySplit(t *testing.T) {
	f := setupEntityServiceTest(t)
	ctx := context.Background()

	owner := mustCreateTestUser(t, f.db, "owner")
	viewer := mustCreateTestUser(t, f.db, "viewer")
	stranger := mustCreateTestUser(t, f.db, "stranger")

	task, err := f.entities.CreateTask(ctx, permissions.Principal{UserID: owner.ID}, CreateTaskInput{Title: "secret"})
	require.NoError(t, err)

	// The viewer gets a view-only object privilege.
	require.NoError(t, f.db.Create(&models.ModelPrivilege{
		EntityType: models.EntityTypeTask, EntityID: task.ID, UserID: viewer.ID,
		FullAccess: models.PrivilegeNeutral, View: models.PrivilegeAllow,
		Edit: models.PrivilegeNeutral, Trash: models.PrivilegeNeutral,
		Delete: models.PrivilegeNeutral, Restore: models.PrivilegeNeutral,
	}).Error)

	// A stranger cannot even learn the task exists.
	_, err = f.entities.GetTask(ctx, permissions.Principal{UserID: stranger.ID}, task.ID, nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// The viewer sees it but may not edit: forbidden, not not-found.
	_, err = f.entities.GetTask(ctx, permissions.Principal{UserID: viewer.ID}, task.ID, nil)
	require.NoError(t, err)
	_, err = f.entities.UpdateTask(ctx, permissions.Principal{UserID: viewer.ID}, task.ID,
		UpdateTaskInput{Title: strPtr("renamed")}, nil)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// A genuinely missing id is also not-found.
	_, err = f.entities.GetTask(ctx, permissions.Principal{UserID: owner.ID}, "missing", nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEntityService_ProjectMembershipGrantsAccess(t *testing.T) {
	f := setupEntityServiceTest(t)
	ctx := context.Background()

	creator := mustCreateTestUser(t, f.db, "creator")
	member := mustCreateTestUser(t, f.db, "member")

	project, err := f.projects.Create(ctx, creator.ID, CreateProjectInput{Name: "proj"})
	require.NoError(t, err)
	_, err = f.projects.AddMember(ctx, member.ID, project.ID, "")
	require.NoError(t, err)

	task, err := f.entities.CreateTask(ctx, permissions.Principal{UserID: creator.ID}, CreateTaskInput{
		Title:      "shared",
		ProjectIDs: []string{project.ID},
	})
	require.NoError(t, err)

	// Observer role grants view only.
	memberPrincipal := permissions.Principal{UserID: member.ID}
	_, err = f.entities.GetTask(ctx, memberPrincipal, task.ID, nil)
	require.NoError(t, err)
	_, err = f.entities.UpdateTask(ctx, memberPrincipal, task.ID, UpdateTaskInput{Title: strPtr("nope")}, nil)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	tasks, err := f.entities.ListTasks(ctx, memberPrincipal, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestEntityService_TaskLifecycle(t *testing.T) {
	f := setupEntityServiceTest(t)
	ctx := context.Background()

	owner := mustCreateTestUser(t, f.db, "owner")
	principal := permissions.Principal{UserID: owner.ID}

	task, err := f.entities.CreateTask(ctx, principal, CreateTaskInput{Title: "t"})
	require.NoError(t, err)

	// Hard delete requires the object to be trashed first.
	err = f.entities.DeleteTask(ctx, principal, task.ID, nil)
	require.True(t, apperrors.IsValidation(err))

	require.NoError(t, f.entities.TrashTask(ctx, principal, task.ID, nil))
	err = f.entities.TrashTask(ctx, principal, task.ID, nil)
	require.True(t, apperrors.IsValidation(err))

	// Trashed objects stay visible to their holders.
	loaded, err := f.entities.GetTask(ctx, principal, task.ID, nil)
	require.NoError(t, err)
	require.True(t, loaded.Deleted)

	require.NoError(t, f.entities.RestoreTask(ctx, principal, task.ID, nil))
	err = f.entities.RestoreTask(ctx, principal, task.ID, nil)
	require.True(t, apperrors.IsValidation(err))

	require.NoError(t, f.entities.TrashTask(ctx, principal, task.ID, nil))
	require.NoError(t, f.entities.DeleteTask(ctx, principal, task.ID, nil))

	_, err = f.entities.GetTask(ctx, principal, task.ID, nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// The delete cascades to links and privilege records.
	var count int64
	require.NoError(t, f.db.Model(&models.ModelPrivilege{}).
		Where("entity_type = ? AND entity_id = ?", models.EntityTypeTask, task.ID).
		Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestEntityService_AssignProjectsRequiresChangeProject(t *testing.T) {
	f := setupEntityServiceTest(t)
	ctx := context.Background()

	creator := mustCreateTestUser(t, f.db, "creator")
	member := mustCreateTestUser(t, f.db, "member")

	project, err := f.projects.Create(ctx, creator.ID, CreateProjectInput{Name: "proj"})
	require.NoError(t, err)
	_, err = f.projects.AddMember(ctx, member.ID, project.ID, "")
	require.NoError(t, err)

	task, err := f.entities.CreateTask(ctx, permissions.Principal{UserID: creator.ID}, CreateTaskInput{
		Title:      "t",
		ProjectIDs: []string{project.ID},
	})
	require.NoError(t, err)

	other, err := f.projects.Create(ctx, creator.ID, CreateProjectInput{Name: "other"})
	require.NoError(t, err)

	// Observers can see the task but hold no change_project grant.
	err = f.entities.AssignProjects(ctx, permissions.Principal{UserID: member.ID},
		models.EntityTypeTask, task.ID, []string{other.ID}, nil)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// The creator holds full access on the object, which covers
	// change_project; managers also carry the role grant.
	err = f.entities.AssignProjects(ctx, permissions.Principal{UserID: creator.ID},
		models.EntityTypeTask, task.ID, []string{other.ID}, nil)
	require.NoError(t, err)

	var links []models.EntityProject
	require.NoError(t, f.db.Find(&links, "entity_type = ? AND entity_id = ?",
		models.EntityTypeTask, task.ID).Error)
	require.Len(t, links, 1)
	require.Equal(t, other.ID, links[0].ProjectID)
}

func TestEntityService_NotesBehaveLikeTasks(t *testing.T) {
	f := setupEntityServiceTest(t)
	ctx := context.Background()

	owner := mustCreateTestUser(t, f.db, "owner")
	viewer := mustCreateTestUser(t, f.db, "viewer")
	stranger := mustCreateTestUser(t, f.db, "stranger")
	principal := permissions.Principal{UserID: owner.ID}

	note, err := f.entities.CreateNote(ctx, principal, CreateNoteInput{Subject: "minutes"})
	require.NoError(t, err)

	_, err = f.entities.GetNote(ctx, permissions.Principal{UserID: stranger.ID}, note.ID, nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	// A view-only privilege yields the same split as on tasks: the note is
	// visible, but a disallowed action is forbidden rather than not-found.
	require.NoError(t, f.db.Create(&models.ModelPrivilege{
		EntityType: models.EntityTypeNote, EntityID: note.ID, UserID: viewer.ID,
		FullAccess: models.PrivilegeNeutral, View: models.PrivilegeAllow,
		Edit: models.PrivilegeNeutral, Trash: models.PrivilegeNeutral,
		Delete: models.PrivilegeNeutral, Restore: models.PrivilegeNeutral,
	}).Error)
	_, err = f.entities.GetNote(ctx, permissions.Principal{UserID: viewer.ID}, note.ID, nil)
	require.NoError(t, err)
	err = f.entities.TrashNote(ctx, permissions.Principal{UserID: viewer.ID}, note.ID, nil)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	notes, err := f.entities.ListNotes(ctx, principal, nil)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	err = f.entities.DeleteNote(ctx, principal, note.ID, nil)
	require.True(t, apperrors.IsValidation(err))
	require.NoError(t, f.entities.TrashNote(ctx, principal, note.ID, nil))
	require.NoError(t, f.entities.RestoreNote(ctx, principal, note.ID, nil))
	require.NoError(t, f.entities.TrashNote(ctx, principal, note.ID, nil))
	require.NoError(t, f.entities.DeleteNote(ctx, principal, note.ID, nil))

	_, err = f.entities.GetNote(ctx, principal, note.ID, nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEntityService_GlobalGrantWithDenyStillLists(t *testing.T) {
	f := setupEntityServiceTest(t)
	ctx := context.Background()

	owner := mustCreateTestUser(t, f.db, "owner")
	auditor := mustCreateTestUser(t, f.db, "auditor")

	ownerPrincipal := permissions.Principal{UserID: owner.ID}
	kept, err := f.entities.CreateTask(ctx, ownerPrincipal, CreateTaskInput{Title: "kept"})
	require.NoError(t, err)
	hidden, err := f.entities.CreateTask(ctx, ownerPrincipal, CreateTaskInput{Title: "hidden"})
	require.NoError(t, err)

	// System-wide view grant, minus an object-level deny on one task. The
	// deny must subtract that single task, not collapse the whole grant.
	require.NoError(t, f.db.Create(&models.GlobalPermission{
		UserID: auditor.ID, EntityType: models.EntityTypeTask,
		Action: string(permissions.ActionView),
	}).Error)
	require.NoError(t, f.db.Create(&models.ModelPrivilege{
		EntityType: models.EntityTypeTask, EntityID: hidden.ID, UserID: auditor.ID,
		FullAccess: models.PrivilegeNeutral, View: models.PrivilegeDeny,
		Edit: models.PrivilegeNeutral, Trash: models.PrivilegeNeutral,
		Delete: models.PrivilegeNeutral, Restore: models.PrivilegeNeutral,
	}).Error)

	auditorPrincipal := permissions.Principal{UserID: auditor.ID}
	tasks, err := f.entities.ListTasks(ctx, auditorPrincipal, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, kept.ID, tasks[0].ID)

	_, err = f.entities.GetTask(ctx, auditorPrincipal, kept.ID, nil)
	require.NoError(t, err)
	_, err = f.entities.GetTask(ctx, auditorPrincipal, hidden.ID, nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEntityService_SuperuserSeesEverything(t *testing.T) {
	f := setupEntityServiceTest(t)
	ctx := context.Background()

	owner := mustCreateTestUser(t, f.db, "owner")
	admin := mustCreateTestUser(t, f.db, "admin")

	task, err := f.entities.CreateTask(ctx, permissions.Principal{UserID: owner.ID}, CreateTaskInput{Title: "t"})
	require.NoError(t, err)

	adminPrincipal := permissions.Principal{UserID: admin.ID, Superuser: true}
	loaded, err := f.entities.GetTask(ctx, adminPrincipal, task.ID, nil)
	require.NoError(t, err)
	require.Equal(t, task.ID, loaded.ID)

	tasks, err := f.entities.ListTasks(ctx, adminPrincipal, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func strPtr(s string) *string { return &s }
