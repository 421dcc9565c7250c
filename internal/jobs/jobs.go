// Package jobs declares the application's queues and their processors.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"saas_template/internal/queue"
	"saas_template/internal/utils"
)

const (
	// TestQueueName is the example queue
	TestQueueName = "test-queue"

	// TestQueueConcurrency is the number of test jobs processed in parallel
	TestQueueConcurrency = 5

	testJobWork = 100 * time.Millisecond

	// EmailQueueName carries transactional email
	EmailQueueName = "email-queue"

	// EmailQueueConcurrency is the number of emails sent in parallel
	EmailQueueConcurrency = 2

	welcomeJobName = "welcome-email"
)

// TestJobData is the payload of a test-queue job
type TestJobData struct {
	UserID    string  `json:"userId"`
	Email     string  `json:"email"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

// DisplayName joins the name fields, or returns "Unknown" when both are empty
func (d TestJobData) DisplayName() string {
	var parts []string
	if d.FirstName != nil && *d.FirstName != "" {
		parts = append(parts, *d.FirstName)
	}
	if d.LastName != nil && *d.LastName != "" {
		parts = append(parts, *d.LastName)
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, " ")
}

// Validate checks required fields
func (d TestJobData) Validate() error {
	if d.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if d.Email == "" {
		return fmt.Errorf("email is required")
	}
	return nil
}

var logger = utils.NewLogger("jobs")

// ProcessTestJob logs the user and simulates a short piece of work
func ProcessTestJob(ctx context.Context, job *queue.Job) error {
	var data TestJobData
	if err := job.Decode(&data); err != nil {
		return err
	}

	logger.Info("Processing test job",
		"job_id", job.ID,
		"user_id", data.UserID,
		"email", data.Email,
		"name", data.DisplayName(),
	)

	select {
	case <-time.After(testJobWork):
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Info("Test job finished", "job_id", job.ID, "user_id", data.UserID)
	return nil
}

// WelcomeMailer sends the welcome email
type WelcomeMailer interface {
	SendWelcome(ctx context.Context, to string, firstName *string) (string, error)
}

// WelcomeEmailData is the payload of a welcome-email job
type WelcomeEmailData struct {
	Email     string  `json:"email"`
	FirstName *string `json:"firstName,omitempty"`
}

// WelcomeProcessor returns the processor of the email queue
func WelcomeProcessor(mailer WelcomeMailer) queue.Processor {
	return func(ctx context.Context, job *queue.Job) error {
		var data WelcomeEmailData
		if err := job.Decode(&data); err != nil {
			return err
		}
		if data.Email == "" {
			return fmt.Errorf("email is required")
		}
		if _, err := mailer.SendWelcome(ctx, data.Email, data.FirstName); err != nil {
			return fmt.Errorf("failed to send welcome email: %w", err)
		}
		return nil
	}
}

// Definitions returns every queue of the application
func Definitions(mailer WelcomeMailer) []queue.Definition {
	return []queue.Definition{
		{
			Name:        TestQueueName,
			Concurrency: TestQueueConcurrency,
			Processor:   ProcessTestJob,
		},
		{
			Name:        EmailQueueName,
			Concurrency: EmailQueueConcurrency,
			Processor:   WelcomeProcessor(mailer),
		},
	}
}

// NewRegistry opens the application's queues
func NewRegistry(factory queue.Factory, config *queue.Config, mailer WelcomeMailer) (*queue.Registry, error) {
	if mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	return queue.NewRegistry(factory, config, Definitions(mailer)...)
}

// StartWorkers starts a worker for every queue
func StartWorkers(ctx context.Context, registry *queue.Registry) {
	registry.StartWorkers(ctx)
	logger.Info("Workers started", "queues", len(registry.Workers()))
}

// StopWorkers stops all workers, waiting for running jobs until ctx expires
func StopWorkers(ctx context.Context, registry *queue.Registry) error {
	if err := registry.StopWorkers(ctx); err != nil {
		return fmt.Errorf("failed to stop workers: %w", err)
	}
	logger.Info("Workers stopped")
	return nil
}

// EnqueueTestJob adds a validated test job
func EnqueueTestJob(ctx context.Context, registry *queue.Registry, data TestJobData) (*queue.Job, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	q, err := registry.Get(TestQueueName)
	if err != nil {
		return nil, err
	}
	return q.Add(ctx, "test-job", data)
}

// EnqueueWelcomeEmail schedules the welcome email for a new user
func EnqueueWelcomeEmail(ctx context.Context, registry *queue.Registry, data WelcomeEmailData) (*queue.Job, error) {
	if data.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	q, err := registry.Get(EmailQueueName)
	if err != nil {
		return nil, err
	}
	return q.Add(ctx, welcomeJobName, data)
}
