package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/teamshot/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultInvitationSpec     = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultJobTimeout         = 5 * time.Minute

	jobInvitationSweep = "invitation_sweep"
	jobAuditCleanup    = "audit_cleanup"
)

// JobRecorder observes the outcome of every job run.
type JobRecorder interface {
	RecordRun(job string, err error, duration time.Duration)
}

// InvitationSweeper flips overdue pending invitations to expired.
type InvitationSweeper interface {
	ExpireOverdue(ctx context.Context) (int64, error)
}

// AuditPruner removes audit entries past their retention window.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// Cleaner coordinates background maintenance: expiring overdue invitations in bulk and
// pruning stale audit logs.
type Cleaner struct {
	invitations InvitationSweeper
	audit       AuditPruner
	cron        *cron.Cron
	log         *zap.Logger
	recorder    JobRecorder
	retention   int
	timeout     time.Duration

	invitationSchedule string
	auditSchedule      string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithRecorder reports every job run to r.
func WithRecorder(r JobRecorder) Option {
	return func(cleaner *Cleaner) {
		cleaner.recorder = r
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithInvitationSchedule overrides the cron specification for the invitation expiry sweep.
func WithInvitationSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.invitationSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithJobTimeout bounds how long a single scheduled run may take.
func WithJobTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(invitations InvitationSweeper, audit AuditPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		invitations:        invitations,
		audit:              audit,
		retention:          defaultAuditRetentionDays,
		timeout:            defaultJobTimeout,
		invitationSchedule: defaultInvitationSpec,
		auditSchedule:      defaultAuditSpec,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the maintenance jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if c.invitations == nil && c.audit == nil {
		return nil
	}

	if c.invitations != nil {
		if _, err := c.cron.AddFunc(c.invitationSchedule, c.runJob(jobInvitationSweep, c.expireInvitations)); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, c.runJob(jobAuditCleanup, c.pruneAudit)); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, returning a context that is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured jobs sequentially, collecting every failure.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.invitations != nil {
		errs = multierr.Append(errs, c.run(ctx, jobInvitationSweep, c.expireInvitations))
	}
	if c.audit != nil && c.retention > 0 {
		errs = multierr.Append(errs, c.run(ctx, jobAuditCleanup, c.pruneAudit))
	}
	return errs
}

func (c *Cleaner) runJob(name string, job func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.run(ctx, name, job); err != nil {
			c.log.Warn("maintenance job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

func (c *Cleaner) run(ctx context.Context, name string, job func(context.Context) error) error {
	start := time.Now()
	err := job(ctx)
	if c.recorder != nil {
		c.recorder.RecordRun(name, err, time.Since(start))
	}
	return err
}

func (c *Cleaner) expireInvitations(ctx context.Context) error {
	n, err := c.invitations.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		c.log.Info("expired overdue invitations", zap.Int64("count", n))
	}
	return nil
}

func (c *Cleaner) pruneAudit(ctx context.Context) error {
	n, err := c.audit.CleanupOlderThan(ctx, c.retention)
	if err != nil {
		return err
	}
	if n > 0 {
		c.log.Info("pruned audit logs", zap.Int64("count", n), zap.Int("retention_days", c.retention))
	}
	return nil
}
