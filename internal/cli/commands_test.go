package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTempDB points the config at a fresh SQLite database.
func useTempDB(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "ledger.db"))
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSettlementCommands(t *testing.T) {
	useTempDB(t)

	out, err := run(t, "credit", "acct-1", "100", "-d", "quiz")
	require.NoError(t, err)
	assert.Contains(t, out, "balance 100")

	out, err = run(t, "add-entry", "acct-1", "30", "--reason", "late", "--format", "json")
	require.NoError(t, err)
	var created struct {
		Success bool `json:"success"`
		Data    struct {
			ID        string `json:"id"`
			Mandatory bool   `json:"mandatory"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.True(t, created.Success)
	assert.True(t, created.Data.Mandatory)
	entryID := created.Data.ID

	out, err = run(t, "settle", "acct-1", entryID, "--partial", "10")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, GetExitCode(err))
	assert.Contains(t, out, "invalid_amount")

	out, err = run(t, "settle", "acct-1", entryID)
	require.NoError(t, err)
	assert.Contains(t, out, "paid 30, remaining 0, balance 70")

	out, err = run(t, "settle", "acct-1", entryID)
	require.Error(t, err)
	assert.Equal(t, ExitRejected, GetExitCode(err))
	assert.Contains(t, out, "already_settled")

	out, err = run(t, "debts", "acct-1")
	require.NoError(t, err)
	assert.Contains(t, out, "mandatory 0, optional 0, balance 70")

	out, err = run(t, "settle-mandatory", "acct-1")
	require.NoError(t, err)
	assert.Contains(t, out, "processed 0, deducted 0, balance 70")
}

func TestReconcileCommand(t *testing.T) {
	useTempDB(t)

	_, err := run(t, "credit", "acct-1", "40")
	require.NoError(t, err)
	_, err = run(t, "credit", "acct-2", "15", "--recharge")
	require.NoError(t, err)

	out, err := run(t, "reconcile", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "acct-1: 40 (aggregate)")
	assert.Contains(t, out, "acct-2: 15 (aggregate)")

	out, err = run(t, "reconcile", "acct-1", "--force", "--format", "json")
	require.NoError(t, err)
	var res struct {
		Data struct {
			Amount int64  `json:"amount"`
			Method string `json:"method"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, int64(40), res.Data.Amount)

	_, err = run(t, "reconcile", "acct-1", "--all")
	assert.Error(t, err)

	_, err = run(t, "reconcile")
	assert.Error(t, err)
}

func TestCreditCommand_Rejections(t *testing.T) {
	useTempDB(t)

	_, err := run(t, "credit", "acct-1", "ten")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := run(t, "credit", "acct-1", "0")
	require.Error(t, err)
	assert.Equal(t, ExitRejected, GetExitCode(err))
	assert.Contains(t, out, "invalid_amount")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitCommandError, GetExitCode(assert.AnError))
	assert.Equal(t, ExitRejected, GetExitCode(&ExitError{Code: ExitRejected, Err: assert.AnError}))
}

func TestOpenApp_RecordsForcedRefresh(t *testing.T) {
	useTempDB(t)

	a, err := openApp(&RootOptions{Format: "text"})
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.engine.Recompute(ctx, "acct-1", false)
	require.NoError(t, err)
	_, err = a.engine.Recompute(ctx, "acct-1", true)
	require.NoError(t, err)

	families, err := a.registry.Gather()
	require.NoError(t, err)
	var forced float64
	for _, mf := range families {
		if mf.GetName() == "pointsledger_forced_refreshes_total" {
			forced = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, forced)
}
