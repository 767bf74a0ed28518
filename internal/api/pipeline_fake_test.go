package api

import (
	"context"
	"io"

	"github.com/querypilot/querypilot/internal/audit"
	"github.com/querypilot/querypilot/internal/dataset"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/response"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/storage"
)

var (
	_ Pipeline = (*fakePipeline)(nil)
	_ Pipeline = (*pipeline.Service)(nil)
)

type fakePipeline struct {
	loaded     []byte
	loadedName string
	loadFormat dataset.Format
	loadErr    error
	loader     *dataset.Loader
	objectKey  string
	objects    []storage.ObjectInfo
	listErr    error
	desc       schema.Description
	descErr    error
	ask        pipeline.AskInput
	askSession string
	askResp    response.Response
	askErr     error
	ended      map[string]bool
	runs       []audit.Run
	runsErr    error
	run        audit.Run
	runErr     error
}

func (f *fakePipeline) LoadDataset(ctx context.Context, sessionID string, in dataset.Input) (pipeline.DatasetSummary, error) {
	if f.loadErr != nil {
		return pipeline.DatasetSummary{}, f.loadErr
	}
	if f.loader != nil {
		ds, err := f.loader.Load(ctx, in)
		if err != nil {
			return pipeline.DatasetSummary{}, err
		}
		return pipeline.DatasetSummary{SessionID: sessionID, DatasetID: ds.ID, TableName: ds.TableName, RowCount: ds.RowCount()}, nil
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return pipeline.DatasetSummary{}, err
	}
	f.loaded = body
	f.loadedName = in.Name
	f.loadFormat = in.Format
	return pipeline.DatasetSummary{SessionID: sessionID, DatasetID: "ds-1", TableName: "uploaded_table", RowCount: 5}, nil
}

func (f *fakePipeline) LoadObject(_ context.Context, sessionID, key string, format dataset.Format) (pipeline.DatasetSummary, error) {
	if f.loadErr != nil {
		return pipeline.DatasetSummary{}, f.loadErr
	}
	f.objectKey = key
	f.loadFormat = format
	return pipeline.DatasetSummary{SessionID: sessionID, DatasetID: "ds-2", Source: key}, nil
}

func (f *fakePipeline) ListObjects(_ context.Context, _ string, _ int) ([]storage.ObjectInfo, error) {
	return f.objects, f.listErr
}

func (f *fakePipeline) Describe(_ context.Context, _ string) (schema.Description, error) {
	return f.desc, f.descErr
}

func (f *fakePipeline) Ask(_ context.Context, sessionID string, in pipeline.AskInput) (response.Response, error) {
	f.askSession = sessionID
	f.ask = in
	return f.askResp, f.askErr
}

func (f *fakePipeline) EndSession(sessionID string) bool {
	return f.ended[sessionID]
}

func (f *fakePipeline) Runs(_ context.Context, _ string, _ int) ([]audit.Run, error) {
	return f.runs, f.runsErr
}

func (f *fakePipeline) Run(_ context.Context, _ string) (audit.Run, error) {
	return f.run, f.runErr
}
