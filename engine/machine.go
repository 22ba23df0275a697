package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"outreachly/models"
	"outreachly/store"
	"outreachly/utils"
)

var (
	// ErrInvalid marks a rejected state operation (bad input, wrong state).
	ErrInvalid = errors.New("invalid operation")
	// ErrTransport marks an external send failure; the enrollment stays
	// eligible and the next sweep retries it.
	ErrTransport = errors.New("transport failure")
)

// Machine owns every Enrollment and Campaign mutation. Nothing outside
// this package writes state-machine fields directly.
type Machine struct {
	store           store.Store
	transport       utils.Transport
	senderName      string
	baseURL         string
	trackingSecret  string
	maxSendAttempts int
}

func NewMachine(s store.Store, transport utils.Transport, senderName, baseURL, trackingSecret string, maxSendAttempts int) *Machine {
	if maxSendAttempts <= 0 {
		maxSendAttempts = 5
	}
	return &Machine{
		store:           s,
		transport:       transport,
		senderName:      senderName,
		baseURL:         baseURL,
		trackingSecret:  trackingSecret,
		maxSendAttempts: maxSendAttempts,
	}
}

// ActivateCampaign flips a draft campaign to active and seeds one pending
// enrollment per non-unsubscribed contact at step 0.
func (m *Machine) ActivateCampaign(ctx context.Context, campaignID string, now time.Time) (*models.Campaign, error) {
	campaign, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusDraft {
		return nil, fmt.Errorf("%w: campaign is %s, only draft campaigns can be activated", ErrInvalid, campaign.Status)
	}

	sequence, err := m.store.GetSequence(ctx, campaign.SequenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: campaign has no sequence", ErrInvalid)
		}
		return nil, err
	}
	if !sequence.IsActive {
		return nil, fmt.Errorf("%w: sequence is inactive", ErrInvalid)
	}
	if len(sequence.Steps) == 0 {
		return nil, fmt.Errorf("%w: sequence has no steps", ErrInvalid)
	}
	for _, step := range sequence.Steps {
		if _, err := m.store.GetTemplate(ctx, step.TemplateID); err != nil {
			return nil, fmt.Errorf("%w: step references unknown template %s", ErrInvalid, step.TemplateID)
		}
	}

	contacts, err := m.store.ListContacts(ctx)
	if err != nil {
		return nil, err
	}

	firstDue := now.Add(utils.Days(sequence.Steps[0].WaitDays))
	enrolled := 0
	err = m.store.Transact(ctx, func(tx store.Store) error {
		for _, contact := range contacts {
			if contact.IsUnsubscribed() {
				continue
			}
			enrollment := &models.Enrollment{
				CampaignID:  campaign.ID,
				ContactID:   contact.ID,
				CurrentStep: 0,
				Status:      models.EnrollmentStatusPending,
				NextEmailAt: utils.Pointer(firstDue),
			}
			if err := tx.CreateEnrollment(ctx, enrollment); err != nil {
				return err
			}
			enrolled++
		}
		campaign.Status = models.CampaignStatusActive
		campaign.TotalContacts = enrolled
		return tx.UpdateCampaign(ctx, campaign)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"enrolled":    enrolled,
	}).Info("campaign activated")
	return campaign, nil
}

// Dispatch drives one due enrollment through the pending->sent transition:
// render, send, then commit the advance atomically with the campaign
// counter. Returns true when an email went out and state advanced.
func (m *Machine) Dispatch(ctx context.Context, enrollmentID string, now time.Time) (bool, error) {
	enrollment, err := m.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return false, err
	}
	if !enrollment.Dispatchable() {
		return false, nil
	}

	// Campaign status is re-checked per enrollment so pausing a campaign
	// takes effect before the sweep reaches its remaining enrollments.
	campaign, err := m.store.GetCampaign(ctx, enrollment.CampaignID)
	if err != nil {
		return false, err
	}
	if campaign.Status != models.CampaignStatusActive {
		return false, nil
	}

	contact, err := m.store.GetContact(ctx, enrollment.ContactID)
	if err != nil {
		return false, err
	}
	if contact.IsUnsubscribed() {
		enrollment.Status = models.EnrollmentStatusUnsubscribed
		enrollment.NextEmailAt = nil
		return false, m.store.UpdateEnrollment(ctx, enrollment)
	}

	sequence, err := m.store.GetSequence(ctx, campaign.SequenceID)
	if err != nil {
		return false, err
	}
	if !sequence.IsActive {
		return false, nil
	}

	step := sequence.StepAt(enrollment.CurrentStep)
	if step == nil {
		// Sequence was shortened after enrollment; finish quietly rather
		// than failing the sweep.
		return false, m.forceComplete(ctx, enrollment, "current step beyond sequence bounds")
	}

	template, err := m.store.GetTemplate(ctx, step.TemplateID)
	if err != nil {
		return false, err
	}

	vars := utils.ContactVars(contact, m.senderName)
	body := utils.RenderTemplate(template.Body, vars)
	if m.baseURL != "" {
		pixelURL := utils.GenerateTrackingPixelURL(m.baseURL, m.trackingSecret, enrollment.ID)
		body = utils.InjectOpenTracking(body, pixelURL)
	}
	email := utils.Email{
		To:      contact.Email,
		Subject: utils.RenderTemplate(template.Subject, vars),
		Body:    body,
	}

	if _, err := m.transport.Send(ctx, email); err != nil {
		return false, m.recordSendFailure(ctx, enrollment, err)
	}

	// State commit: the step advance and the campaign counter move in one
	// transaction, so sent_emails is never observed without the advance.
	// Everything is re-fetched inside the transaction: the send is slow and
	// a signal (open, reply, unsubscribe) may have landed mid-flight, so
	// committing the pre-send snapshots would silently revert it.
	committed := false
	err = m.store.Transact(ctx, func(tx store.Store) error {
		fresh, err := tx.GetEnrollment(ctx, enrollment.ID)
		if err != nil {
			return err
		}
		if fresh.CurrentStep != enrollment.CurrentStep || !fresh.Dispatchable() {
			// The enrollment moved under us while the email was in flight
			// (reply, unsubscribe, pause). The newer state wins.
			return nil
		}

		freshCampaign, err := tx.GetCampaign(ctx, enrollment.CampaignID)
		if err != nil {
			return err
		}
		freshContact, err := tx.GetContact(ctx, enrollment.ContactID)
		if err != nil {
			return err
		}

		fresh.LastEmailSentAt = utils.Pointer(now)
		fresh.CurrentStep++
		fresh.SendAttempts = 0
		fresh.LastError = ""
		if next := sequence.StepAt(fresh.CurrentStep); next != nil {
			fresh.Status = models.EnrollmentStatusSent
			fresh.NextEmailAt = utils.Pointer(now.Add(utils.Days(next.WaitDays)))
		} else {
			fresh.Status = models.EnrollmentStatusCompleted
			fresh.NextEmailAt = nil
		}
		if err := tx.UpdateEnrollment(ctx, fresh); err != nil {
			return err
		}

		freshCampaign.SentEmails++
		if err := tx.UpdateCampaign(ctx, freshCampaign); err != nil {
			return err
		}

		freshContact.LastContactedAt = utils.Pointer(now)
		if freshContact.Status == models.ContactStatusNew {
			freshContact.Status = models.ContactStatusContacted
		}
		if err := tx.UpdateContact(ctx, freshContact); err != nil {
			return err
		}
		committed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return committed, nil
}

func (m *Machine) recordSendFailure(ctx context.Context, enrollment *models.Enrollment, sendErr error) error {
	enrollment.SendAttempts++
	enrollment.LastError = sendErr.Error()

	log := logrus.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"attempts":      enrollment.SendAttempts,
	})

	if enrollment.SendAttempts >= m.maxSendAttempts {
		// Never retry forever, never drop silently: park the enrollment
		// and flag it for an operator.
		enrollment.ResumeStatus = models.EnrollmentStatusPending
		enrollment.Status = models.EnrollmentStatusPaused
		enrollment.PausedAt = utils.Pointer(time.Now())
		log.WithError(sendErr).Error("send attempts exhausted, enrollment paused")
	} else {
		log.WithError(sendErr).Warn("send failed, will retry next sweep")
	}

	if err := m.store.UpdateEnrollment(ctx, enrollment); err != nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, sendErr)
}

func (m *Machine) forceComplete(ctx context.Context, enrollment *models.Enrollment, reason string) error {
	err := fmt.Errorf("enrollment %s force-completed: %s", enrollment.ID, reason)
	logrus.WithField("enrollment_id", enrollment.ID).Error(err)
	sentry.CaptureException(err)

	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.NextEmailAt = nil
	return m.store.UpdateEnrollment(ctx, enrollment)
}

// MarkOpened records an open signal. Idempotent: repeated opens for one
// enrollment increment the campaign counter exactly once.
func (m *Machine) MarkOpened(ctx context.Context, enrollmentID string) error {
	return m.store.Transact(ctx, func(tx store.Store) error {
		enrollment, err := tx.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if enrollment.Status != models.EnrollmentStatusSent {
			return nil // already opened/replied, or nothing sent yet
		}

		campaign, err := tx.GetCampaign(ctx, enrollment.CampaignID)
		if err != nil {
			return err
		}

		enrollment.Status = models.EnrollmentStatusOpened
		if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
			return err
		}
		campaign.OpenedEmails++
		return tx.UpdateCampaign(ctx, campaign)
	})
}

// MarkReplied records a reply signal. A reply ends the sequence for this
// enrollment but does not undo a prior open. Idempotent.
func (m *Machine) MarkReplied(ctx context.Context, enrollmentID string) error {
	return m.store.Transact(ctx, func(tx store.Store) error {
		enrollment, err := tx.GetEnrollment(ctx, enrollmentID)
		if err != nil {
			return err
		}
		switch enrollment.Status {
		case models.EnrollmentStatusSent, models.EnrollmentStatusOpened:
		default:
			return nil
		}

		campaign, err := tx.GetCampaign(ctx, enrollment.CampaignID)
		if err != nil {
			return err
		}

		enrollment.Status = models.EnrollmentStatusReplied
		enrollment.NextEmailAt = nil
		if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
			return err
		}

		campaign.RepliedEmails++
		if err := tx.UpdateCampaign(ctx, campaign); err != nil {
			return err
		}

		contact, err := tx.GetContact(ctx, enrollment.ContactID)
		if err != nil {
			return err
		}
		if !contact.IsUnsubscribed() {
			contact.Status = models.ContactStatusReplied
			return tx.UpdateContact(ctx, contact)
		}
		return nil
	})
}

// PauseCampaign pauses an active campaign and every non-terminal
// enrollment under it, remembering each enrollment's prior status and the
// pause instant.
func (m *Machine) PauseCampaign(ctx context.Context, campaignID string, now time.Time) (*models.Campaign, error) {
	campaign, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusActive {
		return nil, fmt.Errorf("%w: campaign is %s, only active campaigns can be paused", ErrInvalid, campaign.Status)
	}

	enrollments, err := m.store.ListEnrollmentsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	err = m.store.Transact(ctx, func(tx store.Store) error {
		for i := range enrollments {
			enrollment := enrollments[i]
			if enrollment.IsTerminal() || enrollment.Status == models.EnrollmentStatusPaused {
				continue
			}
			enrollment.ResumeStatus = enrollment.Status
			enrollment.Status = models.EnrollmentStatusPaused
			enrollment.PausedAt = utils.Pointer(now)
			if err := tx.UpdateEnrollment(ctx, &enrollment); err != nil {
				return err
			}
		}
		campaign.Status = models.CampaignStatusPaused
		return tx.UpdateCampaign(ctx, campaign)
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// ResumeCampaign reactivates a paused campaign. Each enrollment's
// NextEmailAt shifts forward by the paused duration (clamped to no earlier
// than now) so a resume never fires a burst of overdue sends.
func (m *Machine) ResumeCampaign(ctx context.Context, campaignID string, now time.Time) (*models.Campaign, error) {
	campaign, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusPaused {
		return nil, fmt.Errorf("%w: campaign is %s, only paused campaigns can be resumed", ErrInvalid, campaign.Status)
	}

	enrollments, err := m.store.ListEnrollmentsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	err = m.store.Transact(ctx, func(tx store.Store) error {
		for i := range enrollments {
			enrollment := enrollments[i]
			if enrollment.Status != models.EnrollmentStatusPaused {
				continue
			}

			resumed := enrollment.ResumeStatus
			if resumed == "" {
				resumed = models.EnrollmentStatusPending
			}
			if enrollment.NextEmailAt != nil && enrollment.PausedAt != nil {
				shifted := enrollment.NextEmailAt.Add(now.Sub(*enrollment.PausedAt))
				if shifted.Before(now) {
					shifted = now
				}
				enrollment.NextEmailAt = utils.Pointer(shifted)
			}
			enrollment.Status = resumed
			enrollment.PausedAt = nil
			enrollment.ResumeStatus = ""
			enrollment.SendAttempts = 0
			if err := tx.UpdateEnrollment(ctx, &enrollment); err != nil {
				return err
			}
		}
		campaign.Status = models.CampaignStatusActive
		return tx.UpdateCampaign(ctx, campaign)
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// UnsubscribeContact opts a contact out globally: the contact and every
// non-terminal enrollment it holds, in any campaign, become unsubscribed.
// Terminal and irrevocable.
func (m *Machine) UnsubscribeContact(ctx context.Context, contactID string) error {
	contact, err := m.store.GetContact(ctx, contactID)
	if err != nil {
		return err
	}

	enrollments, err := m.store.ListEnrollmentsByContact(ctx, contactID)
	if err != nil {
		return err
	}

	return m.store.Transact(ctx, func(tx store.Store) error {
		contact.Status = models.ContactStatusUnsubscribed
		if err := tx.UpdateContact(ctx, contact); err != nil {
			return err
		}
		for i := range enrollments {
			enrollment := enrollments[i]
			if enrollment.IsTerminal() {
				continue
			}
			enrollment.Status = models.EnrollmentStatusUnsubscribed
			enrollment.NextEmailAt = nil
			if err := tx.UpdateEnrollment(ctx, &enrollment); err != nil {
				return err
			}
		}
		return nil
	})
}
