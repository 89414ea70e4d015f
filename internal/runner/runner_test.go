package runner

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecOutputTrimsAndReportsStderr(t *testing.T) {
	r := NewExec()

	out, err := r.Output(context.Background(), New("sh", "-c", "echo '  hello  '"))
	require.NoError(t, err)
	require.Equal(t, "hello", out)

	_, err = r.Output(context.Background(), New("sh", "-c", "echo broken >&2; exit 4"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
	require.Equal(t, 4, ExitCode(err))
}

func TestExecRunAppendsEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	c := New("sh", "-c", `printf '%s %s' "$WANCTL_TEST" "$(pwd)"`)
	c.Env = []string{"WANCTL_TEST=value"}
	c.Dir = dir
	c.Stdout = &out

	require.NoError(t, NewExec().Run(context.Background(), c))
	require.Contains(t, out.String(), "value ")
	require.Contains(t, out.String(), dir)
}

func TestExitCodeWithoutProcess(t *testing.T) {
	require.Equal(t, -1, ExitCode(nil))
	require.Equal(t, -1, ExitCode(context.Canceled))
}
