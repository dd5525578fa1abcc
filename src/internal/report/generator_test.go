package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	g, err := NewGenerator("")
	require.NoError(t, err)
	assert.Equal(t, "md", g.Extension())

	g, err = NewGenerator("JSON")
	require.NoError(t, err)
	assert.Equal(t, "json", g.Extension())

	_, err = NewGenerator("pdf")
	assert.Error(t, err)
}

func TestMarkdownGenerator(t *testing.T) {
	r := Assemble(sampleInputs())
	out, err := NewMarkdownGenerator().Generate(r)
	require.NoError(t, err)

	assert.Contains(t, out, "# 安全审计报告: Vault")
	assert.Contains(t, out, "**安全评分**: 85 / 100")
	assert.Contains(t, out, "**风险等级**: LOW")
	assert.Contains(t, out, "🟠 **[HIGH]** Reentrancy in withdraw")
	assert.Contains(t, out, "| broken | parseError |")
	assert.Contains(t, out, "## 修复建议")
	assert.Contains(t, out, "analysis could not be parsed")
	assert.Contains(t, out, "**gpt**: Vault holds ETH.")
	assert.NotContains(t, out, "没有任何模型返回可用的分析结果")

	_, err = NewMarkdownGenerator().Generate(nil)
	assert.Error(t, err)
}

func TestMarkdownGenerator_Degraded(t *testing.T) {
	r := Assemble(Inputs{ContractName: "Empty", Source: source})
	out, err := NewMarkdownGenerator().Generate(r)
	require.NoError(t, err)

	assert.Contains(t, out, "没有任何模型返回可用的分析结果")
	assert.Contains(t, out, "未发现问题")
}

func TestJSONGenerator(t *testing.T) {
	r := Assemble(sampleInputs())
	out, err := NewJSONGenerator().Generate(r)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, r.ID, doc["id"])
	assert.Equal(t, float64(85), doc["securityScore"])
	assert.Equal(t, "LOW", doc["riskLevel"])
	assert.Len(t, doc["mergedFindings"], 1)
	assert.Len(t, doc["modelsFailed"], 3)
}

func TestReporter_GenerateAndSaveToFile(t *testing.T) {
	dir := t.TempDir()
	r := Assemble(sampleInputs())

	path, err := NewReporter(NewJSONGenerator(), NewFileStorage(dir), nil).GenerateAndSave(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "audit_Vault_20260102T030405_"))
	assert.True(t, strings.HasSuffix(path, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), r.SourceHash)
}

func TestFileName_SanitizesContractName(t *testing.T) {
	r := Assemble(Inputs{ContractName: "../My Token!", Source: source})
	name := FileName(r, "md")

	assert.NotContains(t, name, "/")
	assert.True(t, strings.HasPrefix(name, "audit_My_Token_"))
	assert.True(t, strings.HasSuffix(name, ".md"))
}

type failingGenerator struct{}

func (failingGenerator) Generate(*SecurityReport) (string, error) { return "", errors.New("boom") }
func (failingGenerator) Extension() string                         { return "txt" }

func TestReporter_GeneratorError(t *testing.T) {
	_, err := NewReporter(failingGenerator{}, NewFileStorage(t.TempDir()), nil).
		GenerateAndSave(context.Background(), Assemble(sampleInputs()))
	assert.ErrorContains(t, err, "boom")
}

type fakeSQL struct {
	queries []string
	args    [][]any
}

func (f *fakeSQL) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil, nil
}

type fakePG struct {
	fakeSQL
}

func (f *fakePG) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	_, err := f.ExecContext(ctx, query, args...)
	return pgconn.CommandTag{}, err
}

func TestMySQLStorage_Save(t *testing.T) {
	db := &fakeSQL{}
	s := newMySQLStorage(db, "")
	r := Assemble(sampleInputs())

	require.NoError(t, s.EnsureSchema(context.Background()))
	id, err := s.Save(context.Background(), r, Document{Content: "# report", Format: "md"})
	require.NoError(t, err)

	assert.Equal(t, r.ID, id)
	require.Len(t, db.queries, 2)
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS audit_reports")
	assert.True(t, strings.HasPrefix(db.queries[1], "INSERT INTO audit_reports (id, contract_name"))
	assert.Equal(t, len(reportColumns), strings.Count(db.queries[1], "?"))
	require.Len(t, db.args[1], len(reportColumns))
	assert.Equal(t, r.ID, db.args[1][0])
	assert.Equal(t, "# report", db.args[1][10])
}

func TestPostgresStorage_Save(t *testing.T) {
	pg := &fakePG{}
	s := newPostgresStorage(pg, "reports")
	r := Assemble(sampleInputs())

	_, err := s.Save(context.Background(), r, Document{Content: "{}", Format: "json"})
	require.NoError(t, err)

	require.Len(t, pg.queries, 1)
	assert.Contains(t, pg.queries[0], "INSERT INTO reports")
	assert.Contains(t, pg.queries[0], "$13)")
}

func TestSQLStorage_NilConnection(t *testing.T) {
	r := Assemble(sampleInputs())
	_, err := NewMySQLStorage(nil, "").Save(context.Background(), r, Document{})
	assert.Error(t, err)
	_, err = NewPostgresStorage(nil, "").Save(context.Background(), r, Document{})
	assert.Error(t, err)
}
