package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("VATLENS_TEST_DIR", "/srv/vatlens")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain path untouched", in: "/var/lib/vatlens.db", want: "/var/lib/vatlens.db"},
		{name: "tilde prefix", in: "~/data/vatlens.db", want: filepath.Join(home, "data", "vatlens.db")},
		{name: "bare tilde", in: "~", want: home},
		{name: "env var", in: "$VATLENS_TEST_DIR/vatlens.db", want: "/srv/vatlens/vatlens.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}

func TestDatabasePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Run("configured path is expanded", func(t *testing.T) {
		got, err := DatabasePath("~/data/vatlens.db")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "data", "vatlens.db"), got)
	})

	t.Run("empty falls back to the data directory", func(t *testing.T) {
		got, err := DatabasePath("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".local", "share", "vatlens", "vatlens.db"), got)
	})
}
