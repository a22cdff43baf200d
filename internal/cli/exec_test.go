package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvka-141/crdb/pkg/crdb"
)

func TestReadStatement(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "transfer.sql")
	require.NoError(t, os.WriteFile(script, []byte("UPDATE a SET b = 1;\nUPDATE a SET b = 2;\n"), 0644))

	tests := []struct {
		name    string
		args    []string
		file    string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "argument", args: []string{"SELECT 1"}, want: "SELECT 1"},
		{name: "file", file: script, want: "UPDATE a SET b = 1;\nUPDATE a SET b = 2;\n"},
		{name: "stdin", file: "-", stdin: "DELETE FROM a", want: "DELETE FROM a"},
		{name: "both", args: []string{"SELECT 1"}, file: script, wantErr: true},
		{name: "neither", wantErr: true},
		{name: "blank", args: []string{"   \n"}, wantErr: true},
		{name: "missing file", file: filepath.Join(dir, "nope.sql"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readStatement(tt.args, tt.file, strings.NewReader(tt.stdin))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadStatement_EmptyIsConfigError(t *testing.T) {
	_, err := readStatement(nil, "", strings.NewReader(""))
	assert.True(t, errors.Is(err, crdb.ErrInvalidConfig))
}

func TestIsPiped(t *testing.T) {
	assert.False(t, isPiped(strings.NewReader("SELECT 1")))

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, isPiped(f), "regular files are never terminals")
}

func TestReadStatement_PipedStdin(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString("UPDATE a SET b = 3")
	require.NoError(t, err)
	_, err = f.Seek(0, 0)
	require.NoError(t, err)

	got, err := readStatement(nil, "", f)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE a SET b = 3", got)
}
