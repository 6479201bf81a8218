package session

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
)

func spawnShell(t *testing.T) *Session {
	t.Helper()

	sess, err := Spawn(context.Background(), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	return sess
}

func TestEval(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	output, err := sess.Eval(context.Background(), "echo hello")
	require.NoError(t, err)
	require.Equal(t, "hello", output)
}

func TestEvalKeepsState(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	_, err := sess.Eval(context.Background(), "GREETING=hi")
	require.NoError(t, err)

	output, err := sess.Eval(context.Background(), "echo \"$GREETING there\"")
	require.NoError(t, err)
	require.Equal(t, "hi there", output)
}

func TestEvalFailure(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	_, err := sess.Eval(context.Background(), "echo diagnostics; false")
	require.Error(t, err)
	require.Contains(t, err.Error(), "diagnostics")

	// the session survives a failed script
	output, err := sess.Eval(context.Background(), "echo still alive")
	require.NoError(t, err)
	require.Equal(t, "still alive", output)
}

func TestEvalNoTrailingNewline(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	output, err := sess.Eval(context.Background(), "printf hi")
	require.NoError(t, err)
	require.Equal(t, "hi", output)
}

func TestEvalFailureNoTrailingNewline(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	_, err := sess.Eval(context.Background(), "printf diagnostics; false")
	require.Error(t, err)
	require.Contains(t, err.Error(), "diagnostics")
}

func TestEvalMultiline(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	output, err := sess.Eval(context.Background(), "echo one\necho two")
	require.NoError(t, err)
	require.Equal(t, "one\ntwo", output)
}

func TestEvalWorkingDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sess, err := Spawn(context.Background(), Config{Dir: dir})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Eval(context.Background(), "echo data >marker.txt")
	require.NoError(t, err)

	output, err := sess.Eval(context.Background(), "cat marker.txt")
	require.NoError(t, err)
	require.Equal(t, "data", output)
}

func TestEvalAfterClose(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())

	_, err := sess.Eval(context.Background(), "echo hello")
	require.True(t, eris.Is(err, ErrClosed))
}

func TestEvalCancellation(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := sess.Eval(ctx, "sleep 30")
	require.Error(t, err)
	require.Contains(t, err.Error(), "aborted")

	// cancellation kills the interpreter
	_, err = sess.Eval(context.Background(), "echo hello")
	require.True(t, eris.Is(err, ErrClosed))
}

func TestEvalInterpreterExit(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	_, err := sess.Eval(context.Background(), "exit 0")
	require.Error(t, err)

	_, err = sess.Eval(context.Background(), "echo hello")
	require.True(t, eris.Is(err, ErrClosed))
}

func TestRestart(t *testing.T) {
	t.Parallel()

	sess := spawnShell(t)
	_, err := sess.Eval(context.Background(), "GREETING=hi")
	require.NoError(t, err)

	require.NoError(t, sess.Restart(context.Background()))

	output, err := sess.Eval(context.Background(), "echo \"empty:$GREETING\"")
	require.NoError(t, err)
	require.Equal(t, "empty:", output)
}
