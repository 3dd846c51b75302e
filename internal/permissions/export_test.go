package permissions

// RemoveExtensionsForTest exposes removeExtensions to the external test
// package so tests can unregister predicates they add.
var RemoveExtensionsForTest = removeExtensions
