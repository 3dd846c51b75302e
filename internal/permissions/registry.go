package permissions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"
)

// EntityDescriptor describes a permission-tracked entity type. The resolver
// uses the table and soft-delete column for the trashable/restorable
// post-filters and for enumerating objects under a blanket grant.
type EntityDescriptor struct {
	Key              string
	Table            string
	SoftDeleteColumn string // empty when the type does not support trash/restore
}

// ExtensionPredicate contributes additional object ids to a grant set.
// Predicates are additive only: they can grant access, never restrict it.
type ExtensionPredicate func(ctx context.Context, db *gorm.DB, principal Principal) ([]string, error)

type extensionKey struct {
	entityType string
	action     Action
}

type registeredExtension struct {
	name      string
	predicate ExtensionPredicate
}

type permissionRegistry struct {
	mu         sync.RWMutex
	entities   map[string]EntityDescriptor
	extensions map[extensionKey][]registeredExtension
}

var globalRegistry = &permissionRegistry{
	entities:   make(map[string]EntityDescriptor),
	extensions: make(map[extensionKey][]registeredExtension),
}

var (
	errEmptyEntityKey     = errors.New("permission registry: entity type key is required")
	errEmptyEntityTable   = errors.New("permission registry: entity table is required")
	errDuplicateEntity    = errors.New("permission registry: entity type already registered")
	errUnknownEntity      = errors.New("permission registry: unknown entity type")
	errInvalidAction      = errors.New("permission registry: invalid action")
	errNilPredicate       = errors.New("permission registry: nil predicate")
	errEmptyExtensionName = errors.New("permission registry: extension name is required")
	errDuplicateExtension = errors.New("permission registry: extension already registered")
)

// RegisterEntityType adds an entity descriptor to the process-wide registry.
// Registration happens during application start-up, never as a side effect
// of resolution.
func RegisterEntityType(desc EntityDescriptor) error {
	desc.Key = strings.TrimSpace(desc.Key)
	desc.Table = strings.TrimSpace(desc.Table)
	desc.SoftDeleteColumn = strings.TrimSpace(desc.SoftDeleteColumn)

	if desc.Key == "" {
		return errEmptyEntityKey
	}
	if desc.Table == "" {
		return errEmptyEntityTable
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.entities[desc.Key]; exists {
		return fmt.Errorf("%w: %s", errDuplicateEntity, desc.Key)
	}

	globalRegistry.entities[desc.Key] = desc
	return nil
}

// EntityType returns the descriptor registered under the given key.
func EntityType(key string) (EntityDescriptor, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	desc, ok := globalRegistry.entities[key]
	return desc, ok
}

// EntityTypes returns all registered descriptors sorted by key.
func EntityTypes() []EntityDescriptor {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make([]EntityDescriptor, 0, len(globalRegistry.entities))
	for _, desc := range globalRegistry.entities {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// RegisterExtension contributes an additive grant predicate for the given
// entity type and action. The name identifies the contributing subsystem and
// must be unique per (entity type, action).
func RegisterExtension(entityTypeKey string, action Action, name string, predicate ExtensionPredicate) error {
	entityTypeKey = strings.TrimSpace(entityTypeKey)
	name = strings.TrimSpace(name)

	if name == "" {
		return errEmptyExtensionName
	}
	if predicate == nil {
		return errNilPredicate
	}
	if !action.Valid() {
		return fmt.Errorf("%w: %s", errInvalidAction, action)
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.entities[entityTypeKey]; !exists {
		return fmt.Errorf("%w: %s", errUnknownEntity, entityTypeKey)
	}

	key := extensionKey{entityType: entityTypeKey, action: action}
	for _, ext := range globalRegistry.extensions[key] {
		if ext.name == name {
			return fmt.Errorf("%w: %s/%s/%s", errDuplicateExtension, entityTypeKey, action, name)
		}
	}

	globalRegistry.extensions[key] = append(globalRegistry.extensions[key], registeredExtension{
		name:      name,
		predicate: predicate,
	})
	return nil
}

// extensionsFor returns the predicates registered for the entity type and
// action, in registration order.
func extensionsFor(entityTypeKey string, action Action) []ExtensionPredicate {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	registered := globalRegistry.extensions[extensionKey{entityType: entityTypeKey, action: action}]
	if len(registered) == 0 {
		return nil
	}

	out := make([]ExtensionPredicate, 0, len(registered))
	for _, ext := range registered {
		out = append(out, ext.predicate)
	}
	return out
}

// removeExtensions clears extension registrations for an entity type.
// Intended for testing only.
func removeExtensions(entityTypeKey string) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	for key := range globalRegistry.extensions {
		if key.entityType == entityTypeKey {
			delete(globalRegistry.extensions, key)
		}
	}
}

// removeEntityType clears one descriptor. Intended for testing only.
func removeEntityType(key string) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	delete(globalRegistry.entities, key)
}
