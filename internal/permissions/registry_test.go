package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRegisterEntityTypeValidation(t *testing.T) {
	require.ErrorIs(t, RegisterEntityType(EntityDescriptor{Table: "things"}), errEmptyEntityKey)
	require.ErrorIs(t, RegisterEntityType(EntityDescriptor{Key: "thing"}), errEmptyEntityTable)

	// Built-in types are registered at init; re-registering collides.
	err := RegisterEntityType(EntityDescriptor{Key: "task", Table: "tasks"})
	require.ErrorIs(t, err, errDuplicateEntity)
}

func TestRegisterEntityTypeRoundTrip(t *testing.T) {
	desc := EntityDescriptor{Key: "contact", Table: "contacts", SoftDeleteColumn: "deleted"}
	require.NoError(t, RegisterEntityType(desc))
	t.Cleanup(func() { removeEntityType("contact") })

	got, ok := EntityType("contact")
	require.True(t, ok)
	require.Equal(t, desc, got)

	var keys []string
	for _, d := range EntityTypes() {
		keys = append(keys, d.Key)
	}
	require.Contains(t, keys, "contact")
	require.Contains(t, keys, "project")
	require.IsIncreasing(t, keys)
}

func TestRegisterExtensionValidation(t *testing.T) {
	noop := func(ctx context.Context, db *gorm.DB, principal Principal) ([]string, error) {
		return nil, nil
	}

	err := RegisterExtension("task", ActionView, "", noop)
	require.ErrorIs(t, err, errEmptyExtensionName)

	err = RegisterExtension("task", ActionView, "attends", nil)
	require.ErrorIs(t, err, errNilPredicate)

	err = RegisterExtension("task", Action("launch"), "attends", noop)
	require.ErrorIs(t, err, errInvalidAction)

	err = RegisterExtension("ghost", ActionView, "attends", noop)
	require.ErrorIs(t, err, errUnknownEntity)
}

func TestRegisterExtensionRejectsDuplicateName(t *testing.T) {
	noop := func(ctx context.Context, db *gorm.DB, principal Principal) ([]string, error) {
		return nil, nil
	}
	t.Cleanup(func() { removeExtensions("note") })

	require.NoError(t, RegisterExtension("note", ActionView, "mentions", noop))
	err := RegisterExtension("note", ActionView, "mentions", noop)
	require.ErrorIs(t, err, errDuplicateExtension)

	// Same name on a different action is a distinct registration.
	require.NoError(t, RegisterExtension("note", ActionEdit, "mentions", noop))
	require.Len(t, extensionsFor("note", ActionView), 1)
	require.Len(t, extensionsFor("note", ActionEdit), 1)
	require.Empty(t, extensionsFor("note", ActionTrash))
}
