// Package temporal is the backfill queue transport: messages are delivered
// as workflow executions, redelivery comes from the activity retry policy,
// and delayed sends use workflow start delays.
package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/clintrovert/praxis/pkg/types"
)

// BackfillWorkflowName is the registered name of the backfill workflow.
const BackfillWorkflowName = "BackfillWorkflow"

// Client wraps the Temporal client as a queue.Sender.
type Client struct {
	temporalClient client.Client
	logger         *zap.Logger
	taskQueue      string
}

// NewClient dials the Temporal server.
func NewClient(address, namespace, taskQueue string, logger *zap.Logger) (*Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  address,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	return &Client{
		temporalClient: c,
		logger:         logger,
		taskQueue:      taskQueue,
	}, nil
}

// Send enqueues one backfill message for delivery after delay, returning
// the workflow id as the receipt.
func (c *Client) Send(ctx context.Context, msg types.BackfillMessage, delay time.Duration) (string, error) {
	workflowID := fmt.Sprintf("backfill-%d-%s", msg.InstallationID, uuid.NewString())

	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: c.taskQueue,
	}
	if delay > 0 {
		opts.StartDelay = delay
	}

	we, err := c.temporalClient.ExecuteWorkflow(ctx, opts, BackfillWorkflowName, msg)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue backfill message: %w", err)
	}

	c.logger.Debug("enqueued backfill message",
		zap.String("workflow_id", we.GetID()),
		zap.Int64("installation_id", msg.InstallationID),
		zap.Duration("delay", delay),
	)
	return we.GetID(), nil
}

// Raw exposes the underlying Temporal client for worker construction.
func (c *Client) Raw() client.Client {
	return c.temporalClient
}

// Close closes the Temporal client.
func (c *Client) Close() {
	c.temporalClient.Close()
}
