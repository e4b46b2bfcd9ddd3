package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_UsesInjectedValues(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	t.Cleanup(func() { Version, Commit = oldVersion, oldCommit })
	Version, Commit = "v1.2.3", "abc123"

	info := Get()

	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfo_LogAttrs(t *testing.T) {
	attrs := Info{Version: "v1", Commit: "c", BuildTime: "t", GoVersion: "go"}.LogAttrs()

	assert.Equal(t, []any{"version", "v1", "commit", "c", "build_time", "t", "go_version", "go"}, attrs)
}
