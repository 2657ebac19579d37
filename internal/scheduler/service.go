package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/socialpulse/ig-insights/internal/config"
	"github.com/socialpulse/ig-insights/internal/models"
	"github.com/socialpulse/ig-insights/internal/notifications"
)

const (
	tokenCheckSchedule = "0 0 */6 * * *"
	dailySchedule      = "0 0 9 * * *"
	weeklySchedule     = "0 0 9 * * MON"

	tokenCheckTimeout = 2 * time.Minute
	digestTimeout     = 10 * time.Minute
)

// CredentialRefresher runs the proactive token refresh check
type CredentialRefresher interface {
	RefreshIfNeeded(ctx context.Context) error
}

// DigestBuilder produces the periodic insights digest
type DigestBuilder interface {
	Digest(ctx context.Context) (*models.Digest, error)
}

// Service handles scheduling of credential checks and digests
type Service struct {
	config   *config.Config
	creds    CredentialRefresher
	digests  DigestBuilder
	notifier notifications.NotificationInterface
	cron     *cron.Cron
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, creds CredentialRefresher, digests DigestBuilder, notifier notifications.NotificationInterface) *Service {
	return &Service{
		config:   cfg,
		creds:    creds,
		digests:  digests,
		notifier: notifier,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// DigestExpression returns the cron expression for a digest schedule, empty
// when digests are disabled.
func DigestExpression(schedule string) string {
	switch schedule {
	case "daily":
		// Run daily at 9 AM UTC
		return dailySchedule
	case "weekly":
		// Run weekly on Monday at 9 AM UTC
		return weeklySchedule
	default:
		return ""
	}
}

// Start registers the jobs and starts the scheduler
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(tokenCheckSchedule, func() {
		logrus.Info("Starting scheduled token check")
		if err := s.RunTokenCheck(); err != nil {
			logrus.Errorf("Scheduled token check failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule token check: %w", err)
	}

	if expr := DigestExpression(s.config.DigestSchedule); expr != "" {
		_, err = s.cron.AddFunc(expr, func() {
			logrus.Info("Starting scheduled digest")
			if err := s.RunDigest(); err != nil {
				logrus.Errorf("Scheduled digest failed: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule digest: %w", err)
		}
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %s digest schedule (plus token checks every 6 hours)", s.config.DigestSchedule)
	return nil
}

// RunTokenCheck refreshes the credential if it is close to expiry and
// raises an alert when that fails.
func (s *Service) RunTokenCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), tokenCheckTimeout)
	defer cancel()

	err := s.creds.RefreshIfNeeded(ctx)
	if err == nil {
		return nil
	}

	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      "critical",
		Title:     "Instagram access token refresh failed",
		Message:   fmt.Sprintf("The long-lived access token could not be refreshed: %v", err),
		CreatedAt: time.Now().UTC(),
	}
	if nerr := s.notifier.SendAlert(alert); nerr != nil {
		logrus.Errorf("Failed to send token refresh alert: %v", nerr)
	}
	return err
}

// RunDigest builds the insights digest and sends it
func (s *Service) RunDigest() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), digestTimeout)
	defer cancel()

	digest, err := s.digests.Digest(ctx)
	if err != nil {
		return fmt.Errorf("failed to build digest: %w", err)
	}

	if err := s.notifier.SendDigest(digest); err != nil {
		return fmt.Errorf("failed to send digest: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"period":    digest.Period,
		"trends":    len(digest.Trends),
		"top_posts": len(digest.TopPosts),
		"duration":  time.Since(start).String(),
	}).Info("Digest sent")
	return nil
}

// Stop stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		logrus.Info("Scheduler stopped")
	}
}
