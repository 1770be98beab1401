package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rushteam/pricekit/core"
)

// KVBackend 是基于 core.KeyValueStore（内存 / Redis）的追踪后端。
//
// 存储布局：
//
//	experiments       哈希表，field 为实验名，value 为实验 ID
//	exp:<id>:runs     有序集合，member 为 run_id，score 为 start_time（毫秒）
//	run:<run_id>      run JSON
type KVBackend struct {
	store core.KeyValueStore
}

func NewKVBackend(store core.KeyValueStore) *KVBackend {
	return &KVBackend{store: store}
}

func (b *KVBackend) Name() string { return "kv:" + b.store.Name() }

const experimentsKey = "experiments"

func runsKey(experimentID string) string { return "exp:" + experimentID + ":runs" }
func runKey(runID string) string        { return "run:" + runID }

type runDoc struct {
	RunID        string             `json:"run_id"`
	ExperimentID string             `json:"experiment_id"`
	StartTime    int64              `json:"start_time"`
	Params       map[string]string  `json:"params,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

func (d *runDoc) record() *core.RunRecord {
	return &core.RunRecord{
		RunID:        d.RunID,
		ExperimentID: d.ExperimentID,
		Family:       familyOf(d.Params),
		StartTime:    time.UnixMilli(d.StartTime),
		Params:       d.Params,
		Metrics:      d.Metrics,
	}
}

func (b *KVBackend) GetExperimentByName(ctx context.Context, name string) (*core.Experiment, error) {
	id, err := b.store.HGet(ctx, experimentsKey, name)
	if core.IsStoreNotFound(err) {
		return nil, notFound("experiment %q not found", name)
	}
	if err != nil {
		return nil, unavailable("read experiment", err)
	}
	return &core.Experiment{ID: string(id), Name: name}, nil
}

// SearchRuns 按 start_time 降序返回实验下匹配的 run
func (b *KVBackend) SearchRuns(ctx context.Context, experimentID string, filter core.RunFilter) ([]*core.RunRecord, error) {
	ids, err := b.store.ZRange(ctx, runsKey(experimentID), 0, -1)
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, nil
		}
		return nil, unavailable("list runs", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKey(id)
	}
	docs, err := b.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, unavailable("read runs", err)
	}

	runs := make([]*core.RunRecord, 0, len(ids))
	for _, k := range keys {
		data, ok := docs[k]
		if !ok {
			continue
		}
		var doc runDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, misconfigured("decode "+k, err)
		}
		runs = append(runs, doc.record())
	}
	return applyFilter(runs, filter)
}

func (b *KVBackend) GetRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	data, err := b.store.Get(ctx, runKey(runID))
	if core.IsStoreNotFound(err) {
		return nil, notFound("run %q not found", runID)
	}
	if err != nil {
		return nil, unavailable("read run", err)
	}
	var doc runDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, misconfigured(fmt.Sprintf("decode run %q", runID), err)
	}
	return doc.record(), nil
}

// PutExperiment 写入实验（供训练任务和测试使用）
func (b *KVBackend) PutExperiment(ctx context.Context, exp *core.Experiment) error {
	return b.store.HSet(ctx, experimentsKey, exp.Name, []byte(exp.ID))
}

// PutRun 写入 run 并加入实验的 run 索引。
// run.Family 非空时同步写入 model_type 参数。
func (b *KVBackend) PutRun(ctx context.Context, run *core.RunRecord) error {
	params := make(map[string]string, len(run.Params)+1)
	for k, v := range run.Params {
		params[k] = v
	}
	if run.Family != "" {
		params[core.ParamModelType] = run.Family.String()
	}
	doc := runDoc{
		RunID:        run.RunID,
		ExperimentID: run.ExperimentID,
		StartTime:    run.StartTime.UnixMilli(),
		Params:       params,
		Metrics:      run.Metrics,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := b.store.Set(ctx, runKey(run.RunID), data); err != nil {
		return err
	}
	return b.store.ZAdd(ctx, runsKey(run.ExperimentID), float64(doc.StartTime), run.RunID)
}

// Experiments 返回所有实验名 → ID
func (b *KVBackend) Experiments(ctx context.Context) (map[string]string, error) {
	fields, err := b.store.HGetAll(ctx, experimentsKey)
	if err != nil {
		return nil, unavailable("list experiments", err)
	}
	out := make(map[string]string, len(fields))
	for name, id := range fields {
		out[name] = string(id)
	}
	return out, nil
}

func (b *KVBackend) Close() error { return b.store.Close() }

// NewRunID 生成 MLflow 风格的 run_id（32 位十六进制）
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

var _ core.TrackingBackend = (*KVBackend)(nil)
