package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/rushteam/pricekit/core"
)

// 支持的 SQL 方言
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// OpenSQL 打开 SQL 追踪库并 Ping。
// sqlite 的 dsn 为文件路径（或 file: URI），readOnly 时以 mode=ro 打开；postgres 的 dsn 交给 lib/pq。
func OpenSQL(ctx context.Context, dialect, dsn string, readOnly bool) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite3", sqliteDSN(dsn, readOnly))
	case DialectPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, core.NewDomainError(core.ModuleRegistry, core.ErrorCodeConfiguration,
			fmt.Sprintf("unsupported sql dialect %q", dialect))
	}
	if err != nil {
		return nil, unavailable("open "+dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping "+dialect, err)
	}
	return db, nil
}

func sqliteDSN(dsn string, readOnly bool) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if readOnly && !strings.Contains(dsn, "mode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "mode=ro"
	}
	return dsn
}

// SQLBackend 读取 MLflow 表结构（experiments / runs / params / latest_metrics）的追踪后端。
// 只读取 lifecycle_stage = 'active' 的实验与 run，原生顺序为 start_time DESC, run_uuid ASC。
type SQLBackend struct {
	db      *sql.DB
	dialect string
}

func NewSQLBackend(db *sql.DB, dialect string) *SQLBackend {
	return &SQLBackend{db: db, dialect: dialect}
}

func (b *SQLBackend) Name() string { return "sql:" + b.dialect }

// DB 返回底层连接
func (b *SQLBackend) DB() *sql.DB { return b.db }

// rebind 把 ? 占位符转换为方言格式
func (b *SQLBackend) rebind(query string) string {
	if b.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *SQLBackend) GetExperimentByName(ctx context.Context, name string) (*core.Experiment, error) {
	var exp core.Experiment
	err := b.db.QueryRowContext(ctx, b.rebind(
		`SELECT experiment_id, name FROM experiments WHERE name = ? AND lifecycle_stage = 'active'`), name).
		Scan(&exp.ID, &exp.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("experiment %q not found", name)
	}
	if err != nil {
		return nil, b.queryError("get experiment", err)
	}
	return &exp, nil
}

func (b *SQLBackend) SearchRuns(ctx context.Context, experimentID string, filter core.RunFilter) ([]*core.RunRecord, error) {
	var (
		sb   strings.Builder
		args = []any{experimentID}
	)
	sb.WriteString(`SELECT r.run_uuid, r.experiment_id, r.start_time FROM runs r
WHERE r.experiment_id = ? AND r.lifecycle_stage = 'active'`)

	keys := make([]string, 0, len(filter.Params))
	for k := range filter.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(`
  AND EXISTS (SELECT 1 FROM params p WHERE p.run_uuid = r.run_uuid AND p.key = ? AND p.value = ?)`)
		args = append(args, k, filter.Params[k])
	}
	sb.WriteString(`
ORDER BY r.start_time DESC, r.run_uuid ASC`)

	rows, err := b.db.QueryContext(ctx, b.rebind(sb.String()), args...)
	if err != nil {
		return nil, b.queryError("search runs", err)
	}
	var runs []*core.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, b.queryError("scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, b.queryError("search runs", err)
	}
	rows.Close()

	if err := b.loadDetails(ctx, runs); err != nil {
		return nil, err
	}
	return applyFilter(runs, core.RunFilter{Expr: filter.Expr})
}

func (b *SQLBackend) GetRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	row := b.db.QueryRowContext(ctx, b.rebind(
		`SELECT run_uuid, experiment_id, start_time FROM runs WHERE run_uuid = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run %q not found", runID)
	}
	if err != nil {
		return nil, b.queryError("get run", err)
	}
	if err := b.loadDetails(ctx, []*core.RunRecord{run}); err != nil {
		return nil, err
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*core.RunRecord, error) {
	var (
		run   core.RunRecord
		start sql.NullInt64
	)
	if err := s.Scan(&run.RunID, &run.ExperimentID, &start); err != nil {
		return nil, err
	}
	if start.Valid {
		run.StartTime = time.UnixMilli(start.Int64)
	}
	run.Params = map[string]string{}
	run.Metrics = map[string]float64{}
	return &run, nil
}

// loadDetails 批量读取 params 与 latest_metrics 并回填 Family
func (b *SQLBackend) loadDetails(ctx context.Context, runs []*core.RunRecord) error {
	if len(runs) == 0 {
		return nil
	}
	byID := make(map[string]*core.RunRecord, len(runs))
	args := make([]any, len(runs))
	for i, run := range runs {
		byID[run.RunID] = run
		args[i] = run.RunID
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(runs)), ",")

	rows, err := b.db.QueryContext(ctx, b.rebind(`SELECT run_uuid, key, value FROM params WHERE run_uuid IN (`+in+`)`), args...)
	if err != nil {
		return b.queryError("load params", err)
	}
	for rows.Next() {
		var id, k, v string
		if err := rows.Scan(&id, &k, &v); err != nil {
			rows.Close()
			return b.queryError("scan param", err)
		}
		byID[id].Params[k] = v
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return b.queryError("load params", err)
	}

	rows, err = b.db.QueryContext(ctx, b.rebind(`SELECT run_uuid, key, value FROM latest_metrics WHERE run_uuid IN (`+in+`)`), args...)
	if err != nil {
		return b.queryError("load metrics", err)
	}
	for rows.Next() {
		var (
			id, k string
			v     float64
		)
		if err := rows.Scan(&id, &k, &v); err != nil {
			rows.Close()
			return b.queryError("scan metric", err)
		}
		byID[id].Metrics[k] = v
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return b.queryError("load metrics", err)
	}

	for _, run := range runs {
		run.Family = familyOf(run.Params)
	}
	return nil
}

func (b *SQLBackend) queryError(op string, err error) error {
	return unavailable(fmt.Sprintf("%s (%s)", op, b.dialect), err)
}

// PutExperiment 写入实验（供训练任务和测试使用）
func (b *SQLBackend) PutExperiment(ctx context.Context, exp *core.Experiment) error {
	_, err := b.db.ExecContext(ctx, b.rebind(
		`INSERT INTO experiments (experiment_id, name, lifecycle_stage) VALUES (?, ?, 'active')`), exp.ID, exp.Name)
	return err
}

// PutRun 在一个事务内写入 run、params 与 latest_metrics
func (b *SQLBackend) PutRun(ctx context.Context, run *core.RunRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, b.rebind(
		`INSERT INTO runs (run_uuid, experiment_id, start_time, lifecycle_stage) VALUES (?, ?, ?, 'active')`),
		run.RunID, run.ExperimentID, run.StartTime.UnixMilli()); err != nil {
		return err
	}
	params := make(map[string]string, len(run.Params)+1)
	for k, v := range run.Params {
		params[k] = v
	}
	if run.Family != "" {
		params[core.ParamModelType] = run.Family.String()
	}
	for k, v := range params {
		if _, err := tx.ExecContext(ctx, b.rebind(
			`INSERT INTO params (key, value, run_uuid) VALUES (?, ?, ?)`), k, v, run.RunID); err != nil {
			return err
		}
	}
	for k, v := range run.Metrics {
		if _, err := tx.ExecContext(ctx, b.rebind(
			`INSERT INTO latest_metrics (key, value, run_uuid) VALUES (?, ?, ?)`), k, v, run.RunID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *SQLBackend) Close() error { return b.db.Close() }

var _ core.TrackingBackend = (*SQLBackend)(nil)
