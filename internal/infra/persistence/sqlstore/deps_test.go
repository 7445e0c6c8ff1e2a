package sqlstore

import (
	"testing"

	"startpop/testutil"
)

func TestSharedStoreDependsOnSchemaOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.ModuleImportsExcept("startpop/internal/schema", "startpop/pkg/domain"),
		"the shared SQL store renders DDL from schema descriptors only")
}
