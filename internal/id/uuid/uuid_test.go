package uuid

import (
	"regexp"
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsVersion7(t *testing.T) {
	t.Parallel()

	raw, err := New().NewID()
	require.NoError(t, err)
	parsed, err := goUUID.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestNewSessionIDShape(t *testing.T) {
	t.Parallel()

	gen := New()
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		id, err := gen.NewSessionID()
		require.NoError(t, err)
		require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{12}$`), id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 50)
}
