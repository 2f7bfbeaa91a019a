package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ripkitten-co/inkwell"
	"github.com/ripkitten-co/inkwell/binder"
	"github.com/ripkitten-co/inkwell/storage/sqlitestore"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sqliteArgs(path string, args ...string) []string {
	return append(args, "--storage", "sqlite", "--transport", "sqlite", "--sqlite", path)
}

func seed(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	backend, err := sqlitestore.Open(path)
	require.NoError(t, err)
	store, err := binder.NewStore(ctx, backend)
	require.NoError(t, err)
	defer store.Close()

	b, err := store.Open(ctx, "totals")
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "banana", inkwell.Document{"product": "banana", "total": 1}))
	require.NoError(t, b.Put(ctx, "apple", inkwell.Document{"product": "apple", "total": 4}))
	_, err = store.Open(ctx, "carts")
	require.NoError(t, err)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "inkwell", cmd.Use)

	for _, name := range []string{"binders", "get", "scan", "drop", "publish", "tail"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "binders", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBindersGetScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	seed(t, path)

	out, err := execute(t, sqliteArgs(path, "binders")...)
	require.NoError(t, err)
	assert.Contains(t, out, "carts")
	assert.Contains(t, out, "totals")

	out, err = execute(t, sqliteArgs(path, "get", "totals", "banana", "--format", "json")...)
	require.NoError(t, err)
	var resp struct {
		Status string           `json:"status"`
		Data   inkwell.Document `json:"data"`
	}
	require.NoError(t, jsonAPI.UnmarshalFromString(out, &resp))
	assert.Equal(t, "ok", resp.Status)
	total, _ := resp.Data.Int("total")
	assert.Equal(t, int64(1), total)

	out, err = execute(t, sqliteArgs(path, "scan", "totals")...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "apple\t"))

	out, err = execute(t, sqliteArgs(path, "scan", "totals", "--where", "total=4", "--format", "yaml")...)
	require.NoError(t, err)
	var yresp struct {
		Status string `yaml:"status"`
		Data   []struct {
			ID string `yaml:"id"`
		} `yaml:"data"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &yresp))
	require.Len(t, yresp.Data, 1)
	assert.Equal(t, "apple", yresp.Data[0].ID)
}

func TestGet_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	seed(t, path)

	_, err := execute(t, sqliteArgs(path, "get", "totals", "cherry")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, inkwell.ErrNotFound)

	_, err = execute(t, sqliteArgs(path, "get", "nope", "cherry")...)
	assert.ErrorIs(t, err, inkwell.ErrNotFound)
}

func TestDrop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	seed(t, path)

	_, err := execute(t, sqliteArgs(path, "drop", "carts")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, sqliteArgs(path, "drop", "carts", "--yes")...)
	require.NoError(t, err)

	out, err := execute(t, sqliteArgs(path, "binders")...)
	require.NoError(t, err)
	assert.NotContains(t, out, "carts")
}

func TestPublishAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")

	out, err := execute(t, sqliteArgs(path, "publish", "purchases", `{"action":"BUY","product":"banana","quantity":2}`)...)
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(out))
	_, err = execute(t, sqliteArgs(path, "publish", "purchases", `{"action":"REFUND","product":"banana","quantity":1}`)...)
	require.NoError(t, err)

	_, err = execute(t, sqliteArgs(path, "publish", "purchases", `{not json`)...)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = execute(t, sqliteArgs(path, "tail", "purchases", "--after", "0", "--count", "2", "--timeout", "5s", "--format", "json")...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var line tailLine
	require.NoError(t, jsonAPI.UnmarshalFromString(lines[1], &line))
	assert.Equal(t, int64(2), line.Position)
	assert.Equal(t, "purchases", line.Channel)
	payload, ok := line.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "REFUND", payload["action"])
}

func TestTail_TimeoutBeforeCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.db")
	_, err := execute(t, sqliteArgs(path, "tail", "purchases", "--count", "1", "--timeout", "500ms")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestWherePredicate(t *testing.T) {
	pred, err := wherePredicate([]string{"product=banana", "total=1"})
	require.NoError(t, err)
	assert.True(t, pred("x", inkwell.Document{"product": "banana", "total": float64(1)}))
	assert.False(t, pred("x", inkwell.Document{"product": "banana", "total": float64(2)}))
	assert.False(t, pred("x", inkwell.Document{"total": float64(1)}))

	_, err = wherePredicate([]string{"broken"})
	assert.Error(t, err)

	pred, err = wherePredicate(nil)
	require.NoError(t, err)
	assert.Nil(t, pred)
}

func TestOutputFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "yaml", Writer: &buf}
	require.NoError(t, f.Success(map[string]int{"n": 1}, "ignored"))
	assert.Contains(t, buf.String(), "status: ok")
	assert.Contains(t, buf.String(), "n: 1")

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Success(nil, "hello"))
	assert.Equal(t, "hello\n", buf.String())
}
