// Package fixture manages the lifecycle of an expensive, shared test fixture:
// an application assembled once and reused by many tests.
//
// A host test runner reports its execution tree as nodes (a root, containers
// and cases) and calls the Coordinator on entry and exit of each. The
// Coordinator resolves the sharing scope of each node (per method, per class,
// per process, or auto), builds a Composer when the scope requires one, injects
// the assembled application into tagged struct fields of the test instances,
// and releases every Composer exactly once when its owner exits.
//
//	type OrdersTest struct {
//		App  *myapp.App `fixture:"application"`
//		Port int        `fixture:"derived"`
//	}
//
// Scopes can be declared on nodes with WithScope, chosen by a scope rule
// evaluated with expr, CEL or JavaScript, or left to the default policy.
// The pkg/gotest package adapts the Coordinator to the standard testing
// package.
package fixture
