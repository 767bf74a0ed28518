// Package pipeline wires the loader, introspector, prompt builder, agent,
// executor and response assembler together per session.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/agent"
	"github.com/querypilot/querypilot/internal/audit"
	"github.com/querypilot/querypilot/internal/dataset"
	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/prompt"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/query/duckdb"
	"github.com/querypilot/querypilot/internal/response"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/session"
	"github.com/querypilot/querypilot/internal/storage"
)

type Options struct {
	Sessions      *session.Manager
	Loader        *dataset.Loader
	Introspector  *schema.Introspector
	Builder       *prompt.Builder
	Generator     agent.Generator
	Audit         audit.Recorder
	Objects       storage.ObjectStore
	QueryTimeout  time.Duration
	RowCap        int
	MaxSteps      int
	DefaultSample bool
	Logger        *slog.Logger
}

type Service struct {
	sessions      *session.Manager
	loader        *dataset.Loader
	introspector  *schema.Introspector
	builder       *prompt.Builder
	generator     agent.Generator
	audit         audit.Recorder
	objects       storage.ObjectStore
	queryTimeout  time.Duration
	rowCap        int
	maxSteps      int
	defaultSample bool
	logger        *slog.Logger
	now           func() time.Time
}

type DatasetSummary struct {
	SessionID string             `json:"session_id"`
	DatasetID string             `json:"dataset_id"`
	TableName string             `json:"table_name"`
	Source    string             `json:"source"`
	Format    dataset.Format     `json:"format"`
	RowCount  int                `json:"row_count"`
	Schema    schema.Description `json:"schema"`
}

type AskInput struct {
	Question   string
	Credential string
	// History overrides the session's own conversation when non-nil.
	History      []prompt.Turn
	IncludeSteps bool
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	recorder := opts.Audit
	if recorder == nil {
		recorder = audit.Nop{}
	}
	introspector := opts.Introspector
	if introspector == nil {
		introspector = schema.NewIntrospector(schema.DefaultSampleRows)
	}
	builder := opts.Builder
	if builder == nil {
		builder = prompt.NewBuilder(0, 0)
	}
	return &Service{
		sessions:      opts.Sessions,
		loader:        opts.Loader,
		introspector:  introspector,
		builder:       builder,
		generator:     opts.Generator,
		audit:         recorder,
		objects:       opts.Objects,
		queryTimeout:  opts.QueryTimeout,
		rowCap:        opts.RowCap,
		maxSteps:      opts.MaxSteps,
		defaultSample: opts.DefaultSample,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *Service) LoadDataset(ctx context.Context, sessionID string, in dataset.Input) (DatasetSummary, error) {
	ds, err := s.loader.Load(ctx, in)
	if err != nil {
		return DatasetSummary{}, err
	}
	return s.Install(ctx, sessionID, ds)
}

func (s *Service) LoadObject(ctx context.Context, sessionID, key string, format dataset.Format) (DatasetSummary, error) {
	if s.objects == nil {
		return DatasetSummary{}, failure.New(failure.KindInvalidRequest, "object store is not configured")
	}
	ds, err := s.loader.LoadObject(ctx, key, format)
	if err != nil {
		return DatasetSummary{}, err
	}
	return s.Install(ctx, sessionID, ds)
}

func (s *Service) ListObjects(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if s.objects == nil {
		return nil, failure.New(failure.KindInvalidRequest, "object store is not configured")
	}
	return s.objects.List(ctx, prefix, limit)
}

// Install describes ds and publishes it as the session's dataset. A dataset
// that cannot be described never replaces the current one.
func (s *Service) Install(ctx context.Context, sessionID string, ds *dataset.Dataset) (DatasetSummary, error) {
	desc, err := s.introspector.Describe(ds)
	if err != nil {
		return DatasetSummary{}, err
	}
	sess, err := s.sessions.GetOrCreate(sessionID)
	if err != nil {
		return DatasetSummary{}, err
	}

	previous := sess.Store.Current()
	snapshot, err := sess.Store.Replace(ctx, ds)
	if err != nil {
		s.introspector.Forget(ds.ID)
		return DatasetSummary{}, err
	}
	snapshot.Release()
	if previous != nil {
		s.introspector.Forget(previous.ID)
	}
	sess.ResetHistory()

	observability.ForRequest(ctx, s.logger, slog.String("session", sessionID)).InfoContext(ctx, "dataset_installed",
		slog.String("dataset_id", ds.ID),
		slog.String("format", string(ds.Format)),
		slog.Int("rows", ds.RowCount()),
		slog.Int("columns", len(ds.Columns)),
	)
	return DatasetSummary{
		SessionID: sessionID,
		DatasetID: ds.ID,
		TableName: ds.TableName,
		Source:    ds.Source,
		Format:    ds.Format,
		RowCount:  ds.RowCount(),
		Schema:    desc,
	}, nil
}

func (s *Service) Describe(ctx context.Context, sessionID string) (schema.Description, error) {
	snapshot, _, err := s.acquire(ctx, sessionID)
	if err != nil {
		return schema.Description{}, err
	}
	defer snapshot.Release()
	return s.introspector.Describe(snapshot.Dataset())
}

// Ask answers one question against the session's current dataset. Agent
// failures are reported inside the Response; the error is reserved for
// problems that stop the request before the agent runs.
func (s *Service) Ask(ctx context.Context, sessionID string, in AskInput) (response.Response, error) {
	if strings.TrimSpace(in.Question) == "" {
		return response.Response{}, failure.New(failure.KindInvalidRequest, "question is required")
	}
	snapshot, sess, err := s.acquire(ctx, sessionID)
	if err != nil {
		return response.Response{}, err
	}
	defer snapshot.Release()

	desc, err := s.introspector.Describe(snapshot.Dataset())
	if err != nil {
		return response.Response{}, err
	}
	history := in.History
	if history == nil {
		history = sess.History()
	}
	req, err := s.builder.Build(in.Question, desc, history)
	if err != nil {
		return response.Response{}, err
	}

	runner := query.NewRunner(duckdb.NewEngine(snapshot), s.queryTimeout, s.rowCap)
	runAgent := agent.New(s.generator, runner, s.maxSteps, s.logger.With(slog.String("session", sessionID)))
	started := s.now()
	result, runErr := runAgent.Run(ctx, req, in.Credential)
	elapsed := s.now().Sub(started)

	resp := response.Assemble(result, runErr)
	resp.RunID = uuid.NewString()
	if !in.IncludeSteps {
		resp.Steps = nil
	}
	if runErr == nil {
		sess.AppendTurn(prompt.Turn{Question: req.Question, Answer: resp.Answer})
	}

	run := audit.NewRun(audit.RunInput{
		RunID:     resp.RunID,
		SessionID: sessionID,
		DatasetID: snapshot.Version(),
		Question:  req.Question,
		Provider:  s.generator.Name(),
		Result:    result,
		Err:       runErr,
		Started:   started,
		Elapsed:   elapsed,
	})
	if err := s.audit.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		observability.ForRequest(ctx, s.logger, slog.String("session", sessionID)).WarnContext(ctx, "audit_record_failed",
			slog.String("run_id", resp.RunID),
			slog.Any("error", err),
		)
	}
	return resp, nil
}

func (s *Service) EndSession(sessionID string) bool {
	return s.sessions.End(sessionID)
}

func (s *Service) Runs(ctx context.Context, sessionID string, limit int) ([]audit.Run, error) {
	return s.audit.ListRuns(ctx, sessionID, limit)
}

func (s *Service) Run(ctx context.Context, runID string) (audit.Run, error) {
	return s.audit.GetRun(ctx, runID)
}

// acquire returns the session's current snapshot, loading the sample
// dataset first when the session has none and samples are enabled.
func (s *Service) acquire(ctx context.Context, sessionID string) (*duckdb.Snapshot, *session.Session, error) {
	sess, err := s.sessions.GetOrCreate(sessionID)
	if err != nil {
		return nil, nil, err
	}
	snapshot, err := sess.Store.Acquire()
	if err == nil {
		return snapshot, sess, nil
	}
	if !failure.Is(err, failure.KindNoDataset) || !s.defaultSample {
		return nil, nil, err
	}
	if _, err := s.Install(ctx, sessionID, dataset.Sample(s.loader.TableName)); err != nil {
		return nil, nil, err
	}
	snapshot, err = sess.Store.Acquire()
	if err != nil {
		return nil, nil, err
	}
	return snapshot, sess, nil
}
