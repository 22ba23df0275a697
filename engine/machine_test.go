package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreachly/models"
	"outreachly/store"
	"outreachly/utils"
)

// fakeTransport records sends and can be told to fail.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []utils.Email
	failNext int
	failAll  bool
}

func (f *fakeTransport) Send(ctx context.Context, email utils.Email) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || f.failNext > 0 {
		if f.failNext > 0 {
			f.failNext--
		}
		return "", errors.New("connection refused")
	}
	f.sent = append(f.sent, email)
	return fmt.Sprintf("<msg-%d>", len(f.sent)), nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fixture struct {
	store     *store.MemoryStore
	transport *fakeTransport
	machine   *Machine
	sweeper   *Sweeper

	contact  *models.Contact
	sequence *models.Sequence
	campaign *models.Campaign
}

// newFixture builds a two-step sequence (immediate, then wait 3 days), one
// contact and one draft campaign.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()

	t1 := &models.Template{Name: "Intro", Subject: "Hi {{first_name}}", Body: "Hello {{first_name}} from {{sender_name}}", IsActive: true}
	require.NoError(t, s.CreateTemplate(ctx, t1))
	t2 := &models.Template{Name: "Follow-up", Subject: "Re: Hi {{first_name}}", Body: "Just checking in, {{first_name}}", IsActive: true}
	require.NoError(t, s.CreateTemplate(ctx, t2))

	sequence := &models.Sequence{
		Name:     "Default outreach",
		IsActive: true,
		Steps: []models.SequenceStep{
			{TemplateID: t1.ID, WaitDays: 0},
			{TemplateID: t2.ID, WaitDays: 3},
		},
	}
	require.NoError(t, s.CreateSequence(ctx, sequence))

	contact := &models.Contact{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Company: "Analytical Engines"}
	require.NoError(t, s.CreateContact(ctx, contact))

	campaign := &models.Campaign{Name: "Q3 outreach", SequenceID: sequence.ID, Status: models.CampaignStatusDraft}
	require.NoError(t, s.CreateCampaign(ctx, campaign))

	transport := &fakeTransport{}
	machine := NewMachine(s, transport, "Grace", "", "secret", 5)
	return &fixture{
		store:     s,
		transport: transport,
		machine:   machine,
		sweeper:   NewSweeper(s, machine, time.Second),
		contact:   contact,
		sequence:  sequence,
		campaign:  campaign,
	}
}

func (f *fixture) enrollmentFor(t *testing.T, contactID string) *models.Enrollment {
	t.Helper()
	enrollments, err := f.store.ListEnrollmentsByContact(context.Background(), contactID)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	return &enrollments[0]
}

func TestActivateCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	unsubscribed := &models.Contact{FirstName: "Bob", LastName: "Gone", Email: "bob@example.com", Status: models.ContactStatusUnsubscribed}
	require.NoError(t, f.store.CreateContact(ctx, unsubscribed))

	campaign, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusActive, campaign.Status)
	assert.Equal(t, 1, campaign.TotalContacts, "unsubscribed contacts are never enrolled")

	enrollment := f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, 0, enrollment.CurrentStep)
	require.NotNil(t, enrollment.NextEmailAt)
	assert.WithinDuration(t, now, *enrollment.NextEmailAt, time.Second, "step 0 waits zero days")

	gone, err := f.store.ListEnrollmentsByContact(ctx, unsubscribed.ID)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestActivateCampaignRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	t.Run("not draft", func(t *testing.T) {
		_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
		require.NoError(t, err)
		_, err = f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("inactive sequence", func(t *testing.T) {
		f := newFixture(t)
		f.sequence.IsActive = false
		require.NoError(t, f.store.UpdateSequence(ctx, f.sequence))
		_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("empty sequence", func(t *testing.T) {
		f := newFixture(t)
		f.sequence.Steps = nil
		require.NoError(t, f.store.UpdateSequence(ctx, f.sequence))
		_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("unknown template", func(t *testing.T) {
		f := newFixture(t)
		f.sequence.Steps[0].TemplateID = "missing"
		require.NoError(t, f.store.UpdateSequence(ctx, f.sequence))
		_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestDispatchAdvancesThroughSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)

	enrollment := f.enrollmentFor(t, f.contact.ID)
	advanced, err := f.machine.Dispatch(ctx, enrollment.ID, t0)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, 1, f.transport.sentCount())
	assert.Equal(t, "Hi Ada", f.transport.sent[0].Subject)
	assert.Contains(t, f.transport.sent[0].Body, "Hello Ada from Grace")

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusSent, enrollment.Status)
	assert.Equal(t, 1, enrollment.CurrentStep)
	require.NotNil(t, enrollment.NextEmailAt)
	assert.WithinDuration(t, t0.Add(72*time.Hour), *enrollment.NextEmailAt, time.Second)

	campaign, err := f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, campaign.SentEmails)

	contact, err := f.store.GetContact(ctx, f.contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContactStatusContacted, contact.Status)
	require.NotNil(t, contact.LastContactedAt)

	// Second step: due three days later, then the sequence is done.
	t3 := t0.Add(72 * time.Hour)
	advanced, err = f.machine.Dispatch(ctx, enrollment.ID, t3)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, 2, f.transport.sentCount())

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.Nil(t, enrollment.NextEmailAt)

	campaign, err = f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, campaign.SentEmails, "sent counts every dispatched email")
}

func TestDispatchSkipsNonActiveCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	_, err = f.machine.PauseCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)

	advanced, err := f.machine.Dispatch(ctx, enrollment.ID, now)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Zero(t, f.transport.sentCount())
}

func TestDispatchCancelsUnsubscribedContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)

	f.contact.Status = models.ContactStatusUnsubscribed
	require.NoError(t, f.store.UpdateContact(ctx, f.contact))

	enrollment := f.enrollmentFor(t, f.contact.ID)
	advanced, err := f.machine.Dispatch(ctx, enrollment.ID, now)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Zero(t, f.transport.sentCount())

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusUnsubscribed, enrollment.Status)
	assert.Nil(t, enrollment.NextEmailAt)
}

func TestSendFailureRetriesThenPauses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.machine.maxSendAttempts = 2
	f.transport.failAll = true

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	// First failure: still pending, counted.
	_, err = f.machine.Dispatch(ctx, enrollment.ID, now)
	assert.ErrorIs(t, err, ErrTransport)
	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, 1, enrollment.SendAttempts)
	assert.NotEmpty(t, enrollment.LastError)

	// Second failure hits the cap: force-paused, no longer due.
	_, err = f.machine.Dispatch(ctx, enrollment.ID, now)
	assert.ErrorIs(t, err, ErrTransport)
	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusPaused, enrollment.Status)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.ResumeStatus)

	due, err := f.store.ListDueEnrollments(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	campaign, err := f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, campaign.SentEmails, "failed sends never count")
}

func TestSendFailureThenSuccessResetsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.transport.failNext = 1

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	_, err = f.machine.Dispatch(ctx, enrollment.ID, now)
	assert.ErrorIs(t, err, ErrTransport)

	advanced, err := f.machine.Dispatch(ctx, enrollment.ID, now)
	require.NoError(t, err)
	assert.True(t, advanced)

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Zero(t, enrollment.SendAttempts)
	assert.Empty(t, enrollment.LastError)
}

func TestMarkOpenedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	// An open before anything was sent is ignored.
	require.NoError(t, f.machine.MarkOpened(ctx, enrollment.ID))
	campaign, _ := f.store.GetCampaign(ctx, f.campaign.ID)
	assert.Zero(t, campaign.OpenedEmails)

	_, err = f.machine.Dispatch(ctx, enrollment.ID, now)
	require.NoError(t, err)

	require.NoError(t, f.machine.MarkOpened(ctx, enrollment.ID))
	require.NoError(t, f.machine.MarkOpened(ctx, enrollment.ID))
	require.NoError(t, f.machine.MarkOpened(ctx, enrollment.ID))

	campaign, err = f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, campaign.OpenedEmails, "repeat opens count once")

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusOpened, enrollment.Status)
	assert.True(t, enrollment.Dispatchable(), "opened enrollments still get follow-ups")
}

func TestMarkRepliedEndsSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	_, err = f.machine.Dispatch(ctx, enrollment.ID, now)
	require.NoError(t, err)
	require.NoError(t, f.machine.MarkOpened(ctx, enrollment.ID))
	require.NoError(t, f.machine.MarkReplied(ctx, enrollment.ID))
	require.NoError(t, f.machine.MarkReplied(ctx, enrollment.ID))

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusReplied, enrollment.Status)
	assert.Nil(t, enrollment.NextEmailAt)
	assert.False(t, enrollment.Dispatchable())

	campaign, err := f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, campaign.OpenedEmails, "a reply never undoes a recorded open")
	assert.Equal(t, 1, campaign.RepliedEmails)

	contact, err := f.store.GetContact(ctx, f.contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContactStatusReplied, contact.Status)

	// No follow-up goes out after a reply.
	advanced, err := f.machine.Dispatch(ctx, enrollment.ID, now.Add(100*time.Hour))
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, 1, f.transport.sentCount())
}

func TestPauseAndResumeShiftsSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	_, err = f.machine.Dispatch(ctx, enrollment.ID, t0)
	require.NoError(t, err)

	// Pause one day in; follow-up was due at t0+3d.
	pausedAt := t0.Add(24 * time.Hour)
	campaign, err := f.machine.PauseCampaign(ctx, f.campaign.ID, pausedAt)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusPaused, campaign.Status)

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusPaused, enrollment.Status)
	assert.Equal(t, models.EnrollmentStatusSent, enrollment.ResumeStatus)

	// Resume two days later: the follow-up shifts by the paused duration.
	resumedAt := pausedAt.Add(48 * time.Hour)
	campaign, err = f.machine.ResumeCampaign(ctx, f.campaign.ID, resumedAt)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusActive, campaign.Status)

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusSent, enrollment.Status)
	assert.Empty(t, enrollment.ResumeStatus)
	assert.Nil(t, enrollment.PausedAt)
	require.NotNil(t, enrollment.NextEmailAt)
	assert.WithinDuration(t, t0.Add(72*time.Hour).Add(48*time.Hour), *enrollment.NextEmailAt, time.Second)
}

func TestResumeClampsOverdueToNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)

	// Pause after the first email was already due.
	pausedAt := t0.Add(time.Hour)
	_, err = f.machine.PauseCampaign(ctx, f.campaign.ID, pausedAt)
	require.NoError(t, err)

	resumedAt := pausedAt.Add(time.Hour)
	_, err = f.machine.ResumeCampaign(ctx, f.campaign.ID, resumedAt)
	require.NoError(t, err)

	enrollment := f.enrollmentFor(t, f.contact.ID)
	require.NotNil(t, enrollment.NextEmailAt)
	assert.False(t, enrollment.NextEmailAt.Before(resumedAt), "resume never backdates a send")
}

func TestPauseResumeStateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := f.machine.PauseCampaign(ctx, f.campaign.ID, now)
	assert.ErrorIs(t, err, ErrInvalid, "draft campaigns cannot pause")

	_, err = f.machine.ResumeCampaign(ctx, f.campaign.ID, now)
	assert.ErrorIs(t, err, ErrInvalid, "draft campaigns cannot resume")
}

func TestUnsubscribeContactCancelsAllCampaigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	second := &models.Campaign{Name: "Q4 outreach", SequenceID: f.sequence.ID, Status: models.CampaignStatusDraft}
	require.NoError(t, f.store.CreateCampaign(ctx, second))

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)
	_, err = f.machine.ActivateCampaign(ctx, second.ID, now)
	require.NoError(t, err)

	require.NoError(t, f.machine.UnsubscribeContact(ctx, f.contact.ID))

	contact, err := f.store.GetContact(ctx, f.contact.ID)
	require.NoError(t, err)
	assert.True(t, contact.IsUnsubscribed())

	enrollments, err := f.store.ListEnrollmentsByContact(ctx, f.contact.ID)
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	for _, enrollment := range enrollments {
		assert.Equal(t, models.EnrollmentStatusUnsubscribed, enrollment.Status)
		assert.Nil(t, enrollment.NextEmailAt)
	}

	due, err := f.store.ListDueEnrollments(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

// gateTransport blocks inside Send until released, so a test can mutate
// state while an email is in flight.
type gateTransport struct {
	fakeTransport
	entered chan struct{}
	release chan struct{}
}

func newGateTransport() *gateTransport {
	return &gateTransport{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gateTransport) Send(ctx context.Context, email utils.Email) (string, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return g.fakeTransport.Send(ctx, email)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestDispatchPreservesSignalLandedMidSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	_, err = f.machine.Dispatch(ctx, enrollment.ID, t0)
	require.NoError(t, err)

	// The follow-up send blocks while an open signal arrives.
	gate := newGateTransport()
	f.machine.transport = gate

	t3 := t0.Add(72 * time.Hour)
	done := make(chan error, 1)
	go func() {
		_, err := f.machine.Dispatch(ctx, enrollment.ID, t3)
		done <- err
	}()

	<-gate.entered
	require.NoError(t, f.machine.MarkOpened(ctx, enrollment.ID))
	campaign, err := f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	require.Equal(t, 1, campaign.OpenedEmails)

	close(gate.release)
	require.NoError(t, <-done)

	// The commit must not revert the open recorded during the send.
	campaign, err = f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, campaign.OpenedEmails, "counters never decrease")
	assert.Equal(t, 2, campaign.SentEmails)

	updated := f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, updated.Status)
	assert.Equal(t, 2, updated.CurrentStep)
}

func TestDispatchSkipsCommitWhenStateMovedMidSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	gate := newGateTransport()
	f.machine.transport = gate

	done := make(chan struct {
		advanced bool
		err      error
	}, 1)
	go func() {
		advanced, err := f.machine.Dispatch(ctx, enrollment.ID, t0)
		done <- struct {
			advanced bool
			err      error
		}{advanced, err}
	}()

	// The contact opts out while the first email is in flight.
	<-gate.entered
	require.NoError(t, f.machine.UnsubscribeContact(ctx, f.contact.ID))

	close(gate.release)
	result := <-done
	require.NoError(t, result.err)
	assert.False(t, result.advanced, "the newer state wins over the in-flight send")

	updated := f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusUnsubscribed, updated.Status)
	assert.Equal(t, 0, updated.CurrentStep)

	campaign, err := f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, campaign.SentEmails, "an uncommitted advance never counts")
}

func TestShortenedSequenceForceCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, now)
	require.NoError(t, err)
	enrollment := f.enrollmentFor(t, f.contact.ID)

	// The sequence loses its steps while the enrollment points at step 0.
	enrollment.CurrentStep = 5
	require.NoError(t, f.store.UpdateEnrollment(ctx, enrollment))

	advanced, err := f.machine.Dispatch(ctx, enrollment.ID, now)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Zero(t, f.transport.sentCount())

	enrollment = f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.Nil(t, enrollment.NextEmailAt)
}
