package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"outreachly/models"
	"outreachly/store"
)

// TickResult summarizes one sweep.
type TickResult struct {
	Advanced int `json:"advanced"`
	Failed   int `json:"failed"`
}

// Sweeper walks every due enrollment through dispatch once per tick.
type Sweeper struct {
	store           store.Store
	machine         *Machine
	dispatchTimeout time.Duration
}

func NewSweeper(s store.Store, machine *Machine, dispatchTimeout time.Duration) *Sweeper {
	if dispatchTimeout <= 0 {
		dispatchTimeout = 30 * time.Second
	}
	return &Sweeper{
		store:           s,
		machine:         machine,
		dispatchTimeout: dispatchTimeout,
	}
}

// Tick processes every enrollment due at now. Enrollments are independent:
// one failure never aborts the sweep for the rest, and campaign completion
// is folded in at the end.
func (s *Sweeper) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var result TickResult

	due, err := s.store.ListDueEnrollments(ctx, now)
	if err != nil {
		return result, err
	}

	touched := make(map[string]bool)
	for _, enrollment := range due {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		dctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
		advanced, err := s.machine.Dispatch(dctx, enrollment.ID, now)
		cancel()

		switch {
		case err == nil:
			if advanced {
				result.Advanced++
				touched[enrollment.CampaignID] = true
			}
		case errors.Is(err, ErrTransport):
			result.Failed++
		default:
			result.Failed++
			logrus.WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"campaign_id":   enrollment.CampaignID,
			}).WithError(err).Error("sweep: dispatch failed")
		}
	}

	for campaignID := range touched {
		if err := s.completeIfFinished(ctx, campaignID); err != nil {
			logrus.WithField("campaign_id", campaignID).WithError(err).Error("sweep: completion check failed")
		}
	}

	if result.Advanced > 0 || result.Failed > 0 {
		logrus.WithFields(logrus.Fields{
			"advanced": result.Advanced,
			"failed":   result.Failed,
		}).Info("sweep tick finished")
	}
	return result, nil
}

// completeIfFinished marks a campaign completed once every enrollment has
// reached a state the sweep will never advance again.
func (s *Sweeper) completeIfFinished(ctx context.Context, campaignID string) error {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil
	}

	enrollments, err := s.store.ListEnrollmentsByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	for _, enrollment := range enrollments {
		switch enrollment.Status {
		case models.EnrollmentStatusCompleted, models.EnrollmentStatusUnsubscribed, models.EnrollmentStatusReplied:
		default:
			return nil
		}
	}

	campaign.Status = models.CampaignStatusCompleted
	if err := s.store.UpdateCampaign(ctx, campaign); err != nil {
		return err
	}
	logrus.WithField("campaign_id", campaignID).Info("campaign completed")
	return nil
}
