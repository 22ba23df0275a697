package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"outreachly/config"
	"outreachly/engine"
	"outreachly/models"
	"outreachly/store"
)

// ReplyWorker polls the configured reply inbox over IMAP and turns unseen
// messages from known contacts into reply signals.
type ReplyWorker struct {
	Store    store.Store
	Engine   *engine.Machine
	Inbox    config.IMAPConfig
	Interval time.Duration
	Logger   *log.Logger
}

func NewReplyWorker(s store.Store, m *engine.Machine, inbox config.IMAPConfig, interval time.Duration, logger *log.Logger) *ReplyWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReplyWorker{
		Store:    s,
		Engine:   m,
		Inbox:    inbox,
		Interval: interval,
		Logger:   logger,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	if rw.Inbox.Host == "" {
		rw.Logger.Println("Reply worker disabled: no IMAP inbox configured")
		return
	}

	rw.Logger.Println("Reply worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Println("Reply worker shutting down...")
			return
		case <-ticker.C:
			if err := rw.pollInbox(ctx); err != nil {
				rw.Logger.Printf("Reply poll error: %v", err)
			}
		}
	}
}

func (rw *ReplyWorker) pollInbox(ctx context.Context) error {
	imapAddr := fmt.Sprintf("%s:%d", rw.Inbox.Host, rw.Inbox.Port)
	imapClient, err := client.DialTLS(imapAddr, &tls.Config{ServerName: rw.Inbox.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(rw.Inbox.Username, rw.Inbox.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	mailbox := rw.Inbox.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %v", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	processed := new(imap.SeqSet)
	for msg := range messages {
		if err := rw.processMessage(ctx, msg); err != nil {
			rw.Logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
		processed.AddNum(msg.SeqNum)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %v", err)
	}

	if !processed.Empty() {
		flags := []interface{}{imap.SeenFlag}
		if err := imapClient.Store(processed, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			rw.Logger.Printf("Failed to mark messages seen: %v", err)
		}
	}
	return nil
}

// processMessage matches a reply to the sender's most recent awaiting
// enrollment. Messages from unknown addresses are skipped, not errors.
func (rw *ReplyWorker) processMessage(ctx context.Context, msg *imap.Message) error {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return nil
	}
	from := strings.ToLower(msg.Envelope.From[0].Address())

	// Drain the body so the literal is consumed even when we skip the
	// sender. mail.CreateReader also validates the MIME structure.
	section := imap.BodySectionName{}
	if literal := msg.GetBody(&section); literal != nil {
		if mr, err := mail.CreateReader(literal); err == nil {
			for {
				p, err := mr.NextPart()
				if err != nil {
					break
				}
				io.Copy(io.Discard, p.Body)
			}
		}
	}

	contact, err := rw.Store.GetContactByEmail(ctx, from)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	enrollments, err := rw.Store.ListEnrollmentsByContact(ctx, contact.ID)
	if err != nil {
		return err
	}

	// Newest awaiting enrollment wins when the contact sits in several
	// campaigns.
	var target *models.Enrollment
	for i := range enrollments {
		enrollment := &enrollments[i]
		switch enrollment.Status {
		case models.EnrollmentStatusSent, models.EnrollmentStatusOpened:
		default:
			continue
		}
		if target == nil || laterSend(enrollment, target) {
			target = enrollment
		}
	}
	if target == nil {
		return nil
	}

	rw.Logger.Printf("Reply from %s matched enrollment %s", from, target.ID)
	return rw.Engine.MarkReplied(ctx, target.ID)
}

func laterSend(a, b *models.Enrollment) bool {
	if a.LastEmailSentAt == nil {
		return false
	}
	if b.LastEmailSentAt == nil {
		return true
	}
	return a.LastEmailSentAt.After(*b.LastEmailSentAt)
}
