package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreachly/models"
	"outreachly/utils"
)

func TestTickAdvancesDueEnrollments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	other := &models.Contact{FirstName: "Bert", LastName: "Ward", Email: "bert@example.com"}
	require.NoError(t, f.store.CreateContact(ctx, other))

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)

	// First sweep: both contacts get step 1.
	result, err := f.sweeper.Tick(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Advanced)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 2, f.transport.sentCount())

	// One day later nothing is due.
	result, err = f.sweeper.Tick(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.Advanced)
	assert.Equal(t, 2, f.transport.sentCount())

	// Three days later the follow-up goes out and the sequence ends.
	result, err = f.sweeper.Tick(ctx, t0.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Advanced)
	assert.Equal(t, 4, f.transport.sentCount())

	campaign, err := f.store.GetCampaign(ctx, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, campaign.SentEmails)
	assert.Equal(t, models.CampaignStatusCompleted, campaign.Status, "campaign completes when every enrollment is settled")
}

func TestTickSkipsContactUnsubscribedBetweenSweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)

	result, err := f.sweeper.Tick(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Advanced)

	// The contact opts out before the follow-up is due.
	require.NoError(t, f.machine.UnsubscribeContact(ctx, f.contact.ID))

	result, err = f.sweeper.Tick(ctx, t0.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.Advanced)
	assert.Equal(t, 1, f.transport.sentCount(), "no email after the unsubscribe")
}

func TestTickCountsTransportFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()
	f.transport.failNext = 1

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)

	result, err := f.sweeper.Tick(ctx, t0)
	require.NoError(t, err, "a transport failure never fails the sweep")
	assert.Zero(t, result.Advanced)
	assert.Equal(t, 1, result.Failed)

	// The enrollment stayed eligible; the next sweep succeeds.
	result, err = f.sweeper.Tick(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Advanced)
	assert.Zero(t, result.Failed)
}

// hungTransport never completes a send on its own; it only returns when
// the caller's context expires.
type hungTransport struct{}

func (hungTransport) Send(ctx context.Context, email utils.Email) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTickBoundsHungTransport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)

	f.machine.transport = hungTransport{}
	sweeper := NewSweeper(f.store, f.machine, 20*time.Millisecond)

	start := time.Now()
	result, err := sweeper.Tick(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed, "a hung send counts as a transport failure")
	assert.Zero(t, result.Advanced)
	assert.Less(t, time.Since(start), 5*time.Second, "the sweep never waits past the dispatch timeout")

	enrollment := f.enrollmentFor(t, f.contact.ID)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, 1, enrollment.SendAttempts, "the timed-out attempt is recorded for the retry cap")
}

func TestTickIgnoresPausedCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)
	_, err = f.machine.PauseCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)

	result, err := f.sweeper.Tick(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, result.Advanced)
	assert.Zero(t, f.transport.sentCount())
}

func TestTickIsIdempotentWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := time.Now()

	_, err := f.machine.ActivateCampaign(ctx, f.campaign.ID, t0)
	require.NoError(t, err)

	_, err = f.sweeper.Tick(ctx, t0)
	require.NoError(t, err)

	// Sweeping the same instant again sends nothing new.
	result, err := f.sweeper.Tick(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, result.Advanced)
	assert.Equal(t, 1, f.transport.sentCount())
}
