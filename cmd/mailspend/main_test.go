package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	acmeBlock = "Paid to: ACME CORP\nAmount: SGD 45.00\n"
	acmeBody  = "Thank you for your payment.\r\n" +
		"Paid to: ACME CORP\r\n" +
		"Amount: SGD 45.00\r\n" +
		"To view your transactions, log in.\r\n"
)

// memoryEnv points the CLI at the in-memory store and an mbox transport.
func memoryEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	for _, key := range []string{"MAILSPEND_CONFIG", "MAILSPEND_WRITER", "MAILSPEND_WRITER_CONFIG", "LOG_FORMAT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("MAILSPEND_STORE", "memory")
	t.Setenv("MAILSPEND_TRANSPORT", "mbox")
	t.Setenv("MBOX_PATH", filepath.Join(dir, "inbox.mbox"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", filepath.Join(dir, "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCategorize(t *testing.T) {
	dir := memoryEnv(t)

	out, err := execute(t, dir, "categorize", "GRAB", "*RIDE")
	require.NoError(t, err)
	assert.Equal(t, "Transport\n", out)

	out, err = execute(t, dir, "categorize", "SOMEWHERE NEW")
	require.NoError(t, err)
	assert.Equal(t, "Uncategorized\n", out)
}

func TestSeed(t *testing.T) {
	dir := memoryEnv(t)

	out, err := execute(t, dir, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded default categories and rules")
}

func TestTemplateGenerateAndValidate(t *testing.T) {
	dir := memoryEnv(t)
	block := writeFile(t, dir, "block.txt", acmeBlock)
	body := writeFile(t, dir, "body.txt", acmeBody)

	out, err := execute(t, dir, "template", "generate", "--block", block, "--body", body, "--name", "Acme Bank", "--from", "alerts@acme.test")
	require.NoError(t, err)
	assert.Contains(t, out, "# merchant: ACME CORP")
	assert.Contains(t, out, "name: Acme Bank")
	assert.Contains(t, out, "gmailQuery:")
	assert.Contains(t, out, "alerts@acme.test")

	provider := writeFile(t, dir, "acme.yaml", out)

	out, err = execute(t, dir, "template", "validate", provider, "--body", body)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ template is valid")
	assert.Contains(t, out, "merchant: ACME CORP")
	assert.Contains(t, out, "amount: 45.00")

	out, err = execute(t, dir, "provider", "add", provider)
	require.NoError(t, err)
	assert.Contains(t, out, `saved provider "Acme Bank"`)
}

func TestTemplateValidate_Invalid(t *testing.T) {
	dir := memoryEnv(t)
	bad := writeFile(t, dir, "bad.yaml", "merchantRegex: '('\namountRegex: '(\\d+)'\n")

	_, err := execute(t, dir, "template", "validate", bad)
	require.ErrorContains(t, err, "merchantRegex")

	empty := writeFile(t, dir, "empty.yaml", "name: nothing\n")
	_, err = execute(t, dir, "template", "validate", empty)
	require.ErrorContains(t, err, "no template found")
}

func TestProviderAddBuiltins(t *testing.T) {
	dir := memoryEnv(t)

	out, err := execute(t, dir, "provider", "add", "--builtins")
	require.NoError(t, err)
	assert.Contains(t, out, "saved provider")

	_, err = execute(t, dir, "provider", "add")
	require.Error(t, err)

	_, err = execute(t, dir, "provider", "delete", "nobody")
	require.ErrorContains(t, err, "not found")
}

func TestRules(t *testing.T) {
	dir := memoryEnv(t)

	out, err := execute(t, dir, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "KEYWORD")
	assert.Contains(t, out, "GRAB")

	out, err = execute(t, dir, "rules", "add", "kopitiam", "Food & Dining")
	require.NoError(t, err)
	assert.Contains(t, out, "KOPITIAM -> Food & Dining")

	_, err = execute(t, dir, "rules", "add", "x", "Nope")
	require.ErrorContains(t, err, "unknown category")

	_, err = execute(t, dir, "rules", "add", "x", "Transport", "--match", "fuzzy")
	require.Error(t, err)

	_, err = execute(t, dir, "rules", "delete", "1")
	require.ErrorContains(t, err, "global")

	_, err = execute(t, dir, "rules", "edit", "abc", "x", "Transport")
	require.ErrorContains(t, err, "invalid rule id")

	out, err = execute(t, dir, "rules", "learn", "KEDAI KOPI SENTOSA", "Food & Dining")
	require.NoError(t, err)
	assert.Contains(t, out, "KEDAI KOPI -> Food & Dining")
}

func TestTxAdd(t *testing.T) {
	dir := memoryEnv(t)

	out, err := execute(t, dir, "tx", "add", "--merchant", "GRAB PTE", "--amount", "12.5", "--date", "2024-03-01")
	require.NoError(t, err)
	assert.Contains(t, out, "added manual-")
	assert.Contains(t, out, "GRAB PTE 12.50 SGD (Transport)")

	_, err = execute(t, dir, "tx", "add", "--merchant", "X", "--amount", "0")
	require.ErrorContains(t, err, "--amount")

	_, err = execute(t, dir, "tx", "add", "--merchant", "X", "--amount", "1", "--type", "refund")
	require.ErrorContains(t, err, "--type")

	_, err = execute(t, dir, "tx", "list", "--from", "March")
	require.ErrorContains(t, err, "--from")
}

func TestSync_EmptyMailbox(t *testing.T) {
	dir := memoryEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inbox.mbox"), nil, 0o600))

	out, err := execute(t, dir, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "synced 0, skipped 0, failed 0")
}

func TestExport_JSON(t *testing.T) {
	dir := memoryEnv(t)
	path := filepath.Join(dir, "out.json")

	out, err := execute(t, dir, "export", "--writer", "json", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 0 transactions with the json writer")

	_, err = execute(t, dir, "export", "--writer", "parquet", "--out", path)
	require.Error(t, err)
}

func TestReports(t *testing.T) {
	dir := memoryEnv(t)

	out, err := execute(t, dir, "report", "cashflow", "--year", "2024")
	require.NoError(t, err)
	assert.Contains(t, out, "Jan")
	assert.Contains(t, out, "Dec")

	_, err = execute(t, dir, "report", "categories", "--from", "2024-06-01", "--to", "2024-01-01")
	require.ErrorContains(t, err, "--from must be before --to")
}

func TestStatus(t *testing.T) {
	dir := memoryEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inbox.mbox"), nil, 0o600))

	out, err := execute(t, dir, "status")
	require.Error(t, err, "no providers are configured")
	assert.Contains(t, out, "✓ OAuth: not required")
	assert.Contains(t, out, "✓ Store (memory): connected")
	assert.Contains(t, out, "✓ Mailbox")
	assert.Contains(t, out, "✗ Providers: none configured")
}

func TestSetup_NoScopes(t *testing.T) {
	dir := memoryEnv(t)

	out, err := execute(t, dir, "setup")
	require.NoError(t, err)
	assert.Contains(t, out, "need no Google authorization")
}
