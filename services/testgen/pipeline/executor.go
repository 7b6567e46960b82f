// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianForge/services/testgen/correlation"
	"github.com/AleutianAI/AleutianForge/services/testgen/datatypes"
	"github.com/AleutianAI/AleutianForge/services/testgen/observability"
)

var tracer = otel.Tracer("aleutian.testgen.pipeline")

// ExecutorConfig carries the per-stage tunables.
type ExecutorConfig struct {
	MinIssueBodyChars  int
	ContextLimit       int
	VectorQueryTimeout time.Duration
	GenerateTimeout    time.Duration
	RepoTimeout        time.Duration
	BaseBranch         string
}

// Executor drives one job through the stage pipeline.
//
// # Description
//
// Execute advances a job stage by stage, persisting after every stage so a
// crash never loses more than the stage in flight. Completed write stages
// record their outputs (branch, commit, PR) on the job; a resumed job skips
// stages whose outputs already exist instead of repeating external writes.
//
// Each stage is attempted at most once per invocation. A retryable failure
// is persisted with its consumed delay and handed back to the caller for
// rescheduling; the executor never sleeps through backoff itself.
//
// # Thread Safety
//
// Executor is stateless between calls and safe for concurrent use. Two
// invocations racing on one job are serialized by the store's
// compare-and-swap updates: the loser aborts without side effects.
type Executor struct {
	store     Store
	retriever ContextRetriever
	generator Generator
	repo      RepositoryClient
	indexer   Indexer
	prompt    PromptFunc
	retry     RetryPolicy
	cfg       ExecutorConfig
	metrics   *observability.Metrics
}

// NewExecutor wires an executor. indexer may be nil when no index is kept.
func NewExecutor(
	store Store,
	retriever ContextRetriever,
	generator Generator,
	repo RepositoryClient,
	indexer Indexer,
	prompt PromptFunc,
	retry RetryPolicy,
	cfg ExecutorConfig,
) *Executor {
	return &Executor{
		store:     store,
		retriever: retriever,
		generator: generator,
		repo:      repo,
		indexer:   indexer,
		prompt:    prompt,
		retry:     retry,
		cfg:       cfg,
		metrics:   observability.Default(),
	}
}

// Result reports what an invocation did with the job.
type Result struct {
	Job datatypes.Job
	// ResumeAfter is non-zero when the job hit a retryable failure and
	// should be re-enqueued after the delay.
	ResumeAfter time.Duration
}

// scratch holds within-invocation state that does not survive a crash and
// is rebuilt from the store or the retriever on resume.
type scratch struct {
	items  []datatypes.ContextItem
	loaded bool
	doc    *datatypes.TestCaseDocument
}

// Execute runs the job until it parks: terminal status, a scheduled retry,
// or a lost compare-and-swap race. Errors are returned only for
// infrastructure trouble (store unavailable, CAS conflict); business
// failures land on the job itself.
func (e *Executor) Execute(ctx context.Context, jobID string) (Result, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return Result{Job: job}, nil
	}

	ev, err := e.store.GetEvent(ctx, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("load event for job %s: %w", jobID, err)
	}

	ctx = correlation.WithID(ctx, job.CorrelationID)
	log := correlation.Logger(ctx).With("job_id", job.JobID, "repository", job.Repository, "issue", job.IssueNumber)

	if job.Status == datatypes.JobPending {
		job, err = e.store.UpdateJob(ctx, job.JobID,
			datatypes.JobExpectation{Status: datatypes.JobPending, Stage: job.CurrentStage},
			func(j *datatypes.Job) error {
				j.Status = datatypes.JobProcessing
				if j.StartedAt == nil {
					now := time.Now().UTC()
					j.StartedAt = &now
				}
				return nil
			})
		if err != nil {
			return Result{}, fmt.Errorf("claim job %s: %w", jobID, err)
		}
	}
	e.metrics.JobsInFlight.Inc()
	defer e.metrics.JobsInFlight.Dec()

	var s scratch
	for {
		stage := job.CurrentStage
		start := time.Now()
		stageErr := e.runStage(ctx, &job, ev, &s)
		outcome := "ok"
		if stageErr != nil {
			outcome = "error"
		}
		e.metrics.ObserveStage(string(stage), outcome, time.Since(start))

		if stageErr == nil {
			next, ok := stage.Next()
			if !ok {
				return e.finish(ctx, log, job, datatypes.JobCompleted, "", "")
			}
			job, err = e.advance(ctx, job, next)
			if err != nil {
				return Result{}, err
			}
			continue
		}

		fault := Classify(stage, stageErr)
		switch fault.Class {
		case ClassDisqualified:
			log.Info("Job disqualified", "stage", stage, "code", fault.Code, "reason", stageErr.Error())
			return e.finish(ctx, log, job, datatypes.JobSkipped, fault.Code, stageErr.Error())
		case ClassTerminal:
			log.Error("Job failed terminally", "stage", stage, "code", fault.Code, "error", stageErr)
			return e.finish(ctx, log, job, datatypes.JobFailed, fault.Code, stageErr.Error())
		}

		dec := e.retry.Decide(fault.Class, job.RetryCount)
		if !dec.Retry {
			log.Error("Retry budget exhausted", "stage", stage, "code", fault.Code,
				"retries", job.RetryCount, "error", stageErr)
			return e.finish(ctx, log, job, datatypes.JobFailed, fault.Code, stageErr.Error())
		}

		// Stage outputs accumulated before the failure (a created branch,
		// a commit SHA) must survive the retry, or the resumed run repeats
		// the external write.
		refs := job.Refs
		job, err = e.store.UpdateJob(ctx, job.JobID,
			datatypes.JobExpectation{Status: datatypes.JobProcessing, Stage: stage},
			func(j *datatypes.Job) error {
				j.Refs = refs
				j.RetryCount++
				j.RetryDelays = append(j.RetryDelays, int64(dec.Delay/time.Second))
				now := time.Now().UTC()
				j.LastRetryAt = &now
				return nil
			})
		if err != nil {
			return Result{}, fmt.Errorf("record retry for job %s: %w", jobID, err)
		}
		e.metrics.RetriesTotal.WithLabelValues(fault.Code).Inc()
		log.Warn("Stage failed, retry scheduled", "stage", stage, "code", fault.Code,
			"attempt", job.RetryCount, "delay", dec.Delay, "error", stageErr)
		return Result{Job: job, ResumeAfter: dec.Delay}, nil
	}
}

func (e *Executor) runStage(ctx context.Context, job *datatypes.Job, ev datatypes.WebhookEvent, s *scratch) error {
	ctx, span := tracer.Start(ctx, "testgen.stage."+string(job.CurrentStage))
	span.SetAttributes(
		attribute.String("job.id", job.JobID),
		attribute.Int("job.retry_count", job.RetryCount),
	)
	defer span.End()

	var err error
	switch job.CurrentStage {
	case datatypes.StageReceive:
		err = e.runReceive(ev)
	case datatypes.StageRetrieve:
		e.runRetrieve(ctx, job, ev, s)
	case datatypes.StageGenerate:
		err = e.runGenerate(ctx, job, ev, s)
	case datatypes.StageCommit:
		err = e.runCommit(ctx, job, s)
	case datatypes.StageCreatePR:
		err = e.runCreatePR(ctx, job, ev)
	case datatypes.StageFinalize:
		err = e.runFinalize(ctx, job, ev, s)
	default:
		err = fmt.Errorf("unknown stage %q", job.CurrentStage)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Executor) runReceive(ev datatypes.WebhookEvent) error {
	if len(ev.IssueBody) < e.cfg.MinIssueBodyChars {
		return fmt.Errorf("%w: %d chars, need %d",
			ErrInsufficientInput, len(ev.IssueBody), e.cfg.MinIssueBodyChars)
	}
	return nil
}

// runRetrieve never fails the job: a dead vector backend degrades to
// generation without historical context.
func (e *Executor) runRetrieve(ctx context.Context, job *datatypes.Job, ev datatypes.WebhookEvent, s *scratch) {
	s.items = e.retrieveContext(ctx, ev)
	s.loaded = true
	job.Refs.ContextSources = contextSources(s.items)
}

func (e *Executor) retrieveContext(ctx context.Context, ev datatypes.WebhookEvent) []datatypes.ContextItem {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.VectorQueryTimeout)
	defer cancel()

	items, err := e.retriever.Query(qctx, ev.Repository, ev.IssueTitle+"\n"+ev.IssueBody, e.cfg.ContextLimit)
	if err != nil {
		correlation.Logger(ctx).Warn("Context retrieval degraded, continuing without history",
			"code", CodeVectorQuery, "error", err)
		return nil
	}
	return items
}

func (e *Executor) runGenerate(ctx context.Context, job *datatypes.Job, ev datatypes.WebhookEvent, s *scratch) error {
	// Resume path: the document may already be persisted.
	if doc, ok, err := e.store.GetDocument(ctx, job.JobID); err == nil && ok {
		s.doc = &doc
		return nil
	}
	if !s.loaded {
		s.items = e.retrieveContext(ctx, ev)
		s.loaded = true
	}

	gctx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	defer cancel()

	content, err := e.generator.Generate(gctx, e.prompt(ev, s.items))
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	doc := datatypes.TestCaseDocument{
		Repository:  ev.Repository,
		IssueNumber: ev.IssueNumber,
		IssueTitle:  ev.IssueTitle,
		Content:     content,
		GeneratedAt: time.Now().UTC(),
	}
	if verr := doc.ValidateStructure(); verr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, verr)
	}
	if err := e.store.PutDocument(ctx, job.JobID, doc); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	s.doc = &doc
	return nil
}

func (e *Executor) runCommit(ctx context.Context, job *datatypes.Job, s *scratch) error {
	if job.Refs.CommitSHA != "" {
		return nil
	}
	doc, err := e.loadDocument(ctx, job, s)
	if err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RepoTimeout)
	defer cancel()

	branch := job.Refs.BranchName
	if branch == "" {
		branch = doc.BranchName()
		if err := e.repo.CreateBranch(rctx, job.Repository, branch, e.cfg.BaseBranch); err != nil {
			if !isBranchExists(err) {
				return err
			}
			// Collision with an earlier run for the same issue. Resolve
			// deterministically with the job id as disambiguator.
			branch = fmt.Sprintf("%s-%s", doc.BranchName(), shortID(job.JobID))
			if err := e.repo.CreateBranch(rctx, job.Repository, branch, e.cfg.BaseBranch); err != nil {
				return err
			}
		}
		job.Refs.BranchName = branch
	}

	sha, err := e.repo.CommitFile(rctx, job.Repository, branch, doc.FilePath(), doc.CommitMessage(), doc.Content)
	if err != nil {
		return err
	}
	job.Refs.CommitSHA = sha
	return nil
}

func (e *Executor) runCreatePR(ctx context.Context, job *datatypes.Job, ev datatypes.WebhookEvent) error {
	if job.Refs.PRNumber != 0 {
		return nil
	}
	doc := datatypes.TestCaseDocument{
		Repository:  job.Repository,
		IssueNumber: job.IssueNumber,
		IssueTitle:  ev.IssueTitle,
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RepoTimeout)
	defer cancel()

	number, url, err := e.repo.OpenPullRequest(rctx, job.Repository,
		doc.PullRequestTitle(), doc.PullRequestBody(), job.Refs.BranchName, e.cfg.BaseBranch)
	if err != nil {
		return err
	}
	job.Refs.PRNumber = number
	job.Refs.PRURL = url
	return nil
}

// runFinalize is best effort end to end: the commit and PR already exist,
// so a failed comment or index write must not fail the job.
func (e *Executor) runFinalize(ctx context.Context, job *datatypes.Job, ev datatypes.WebhookEvent, s *scratch) error {
	log := correlation.Logger(ctx).With("job_id", job.JobID)

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RepoTimeout)
	defer cancel()

	if !job.Refs.CommentPosted {
		body := fmt.Sprintf("Test cases have been generated for this issue: %s", job.Refs.PRURL)
		if err := e.repo.PostIssueComment(rctx, job.Repository, job.IssueNumber, body); err != nil {
			log.Warn("Issue comment failed, job completes anyway", "error", err)
		} else {
			job.Refs.CommentPosted = true
		}
	}

	if e.indexer != nil {
		if doc, err := e.loadDocument(ctx, job, s); err == nil {
			if err := e.indexer.Index(rctx, doc); err != nil {
				log.Warn("Document indexing failed, job completes anyway", "error", err)
			}
		}
	}
	return nil
}

func (e *Executor) loadDocument(ctx context.Context, job *datatypes.Job, s *scratch) (datatypes.TestCaseDocument, error) {
	if s.doc != nil {
		return *s.doc, nil
	}
	doc, ok, err := e.store.GetDocument(ctx, job.JobID)
	if err != nil {
		return datatypes.TestCaseDocument{}, fmt.Errorf("load document for job %s: %w", job.JobID, err)
	}
	if !ok {
		return datatypes.TestCaseDocument{}, fmt.Errorf("job %s reached %s with no document", job.JobID, job.CurrentStage)
	}
	s.doc = &doc
	return doc, nil
}

// advance persists stage outputs and moves the cursor to the next stage.
func (e *Executor) advance(ctx context.Context, job datatypes.Job, next datatypes.WorkflowStage) (datatypes.Job, error) {
	refs := job.Refs
	updated, err := e.store.UpdateJob(ctx, job.JobID,
		datatypes.JobExpectation{Status: datatypes.JobProcessing, Stage: job.CurrentStage},
		func(j *datatypes.Job) error {
			j.Refs = refs
			j.CurrentStage = next
			return nil
		})
	if err != nil {
		return datatypes.Job{}, fmt.Errorf("advance job %s to %s: %w", job.JobID, next, err)
	}
	return updated, nil
}

func (e *Executor) finish(ctx context.Context, log *slog.Logger, job datatypes.Job, status datatypes.JobStatus, code, message string) (Result, error) {
	refs := job.Refs
	updated, err := e.store.UpdateJob(ctx, job.JobID,
		datatypes.JobExpectation{Status: job.Status, Stage: job.CurrentStage},
		func(j *datatypes.Job) error {
			j.Refs = refs
			j.Status = status
			j.ErrorCode = code
			j.ErrorMessage = message
			now := time.Now().UTC()
			j.CompletedAt = &now
			return nil
		})
	if err != nil {
		return Result{}, fmt.Errorf("finish job %s as %s: %w", job.JobID, status, err)
	}
	e.metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	log.Info("Job reached terminal status", "status", string(status), "code", code)
	return Result{Job: updated}, nil
}

func isBranchExists(err error) bool {
	return Classify(datatypes.StageCommit, err).Code == CodeBranchExists
}

func contextSources(items []datatypes.ContextItem) []int {
	if len(items) == 0 {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, it.IssueNumber)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
