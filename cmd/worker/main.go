package main

import (
	"context"
	"log"

	"github.com/spf13/viper"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/internal/activities"
	"github.com/clintrovert/praxis/internal/backfill"
	"github.com/clintrovert/praxis/internal/dedup"
	"github.com/clintrovert/praxis/internal/github"
	"github.com/clintrovert/praxis/internal/jira"
	"github.com/clintrovert/praxis/internal/metrics"
	"github.com/clintrovert/praxis/internal/store"
	transport "github.com/clintrovert/praxis/internal/temporal"
	"github.com/clintrovert/praxis/internal/temporal/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	v := viper.New()
	v.SetEnvPrefix("PRAXIS")
	v.AutomaticEnv()
	v.SetDefault("temporal_address", "localhost:7233")
	v.SetDefault("temporal_namespace", "default")
	v.SetDefault("task_queue", "backfill-queue")
	v.SetDefault("db_path", "praxis.db")
	v.SetDefault("page_size", 20)
	v.SetDefault("marker_ttl", "60s")
	v.SetDefault("grace_window", "10s")
	v.SetDefault("metrics_enabled", false)

	ctx := context.Background()

	shutdownMetrics, err := metrics.Init(ctx, "praxis-worker", v.GetBool("metrics_enabled"))
	if err != nil {
		logger.Fatal("failed to init metrics", zap.Error(err))
	}
	defer shutdownMetrics(ctx)

	rec, err := metrics.Default()
	if err != nil {
		logger.Fatal("failed to create metrics recorder", zap.Error(err))
	}

	st, err := store.Open(v.GetString("db_path"))
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	markers, err := dedup.NewSQLMarkerStore(st.DB())
	if err != nil {
		logger.Fatal("failed to create marker store", zap.Error(err))
	}
	guard := dedup.NewDeduplicator(markers, v.GetDuration("marker_ttl"), v.GetDuration("grace_window"), logger)

	queueClient, err := transport.NewClient(
		v.GetString("temporal_address"),
		v.GetString("temporal_namespace"),
		v.GetString("task_queue"),
		logger,
	)
	if err != nil {
		logger.Fatal("failed to create temporal client", zap.Error(err))
	}
	defer queueClient.Close()

	githubClients := github.NewClientFactory(v.GetString("github_token"), logger)
	submitter := jira.NewSubmitter(v.GetString("jira_username"), v.GetString("jira_token"), logger)

	engine := backfill.NewEngine(
		st,
		backfill.DefaultCatalog(st),
		submitter,
		githubClients,
		queueClient,
		rec,
		v.GetInt("page_size"),
		logger,
	)
	acts := activities.NewBackfillActivities(engine, guard, queueClient, logger)

	w := worker.New(queueClient.Raw(), v.GetString("task_queue"), worker.Options{})
	w.RegisterWorkflowWithOptions(workflows.BackfillWorkflow, workflow.RegisterOptions{
		Name: transport.BackfillWorkflowName,
	})
	w.RegisterActivityWithOptions(acts.ProcessBackfill, activity.RegisterOptions{Name: "ProcessBackfill"})
	w.RegisterActivityWithOptions(acts.MarkTaskFailed, activity.RegisterOptions{Name: "MarkTaskFailed"})

	logger.Info("starting worker",
		zap.String("task_queue", v.GetString("task_queue")),
		zap.String("namespace", v.GetString("temporal_namespace")),
		zap.Int("page_size", v.GetInt("page_size")),
		zap.Duration("marker_ttl", v.GetDuration("marker_ttl")),
	)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker failed", zap.Error(err))
	}

	logger.Info("shutting down worker")
}
