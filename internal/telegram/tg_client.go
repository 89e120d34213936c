package telegram

import (
	"context"

	"suarawarga/backend/internal/localization"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const notifierBuffer = 256

// AuthorLookup resolves who filed a complaint.
type AuthorLookup interface {
	GetComplaint(ctx context.Context, id string) (*models.Complaint, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Notifier is a hub client that tells Telegram authors when their complaint
// moves through the workflow or gets anchored.
type Notifier struct {
	ID        string
	Send      chan notify.Event
	bot       Sender
	lookup    AuthorLookup
	localizer *localization.Localizer
	log       logger.Logger
}

func NewNotifier(bot Sender, lookup AuthorLookup, localizer *localization.Localizer, log logger.Logger) *Notifier {
	return &Notifier{
		ID:        "telegram-notifier",
		Send:      make(chan notify.Event, notifierBuffer),
		bot:       bot,
		lookup:    lookup,
		localizer: localizer,
		log:       log.With(logger.String("component", "telegram_notifier")),
	}
}

func (n *Notifier) GetID() string                       { return n.ID }
func (n *Notifier) GetSendChannel() chan<- notify.Event { return n.Send }

// Run starts the write pump.
func (n *Notifier) Run() {
	go n.writePump()
}

// Close closes Send, which stops writePump.
func (n *Notifier) Close() {
	close(n.Send)
}

func (n *Notifier) writePump() {
	defer n.log.Debug("telegram notifier stopped")

	for e := range n.Send {
		n.Deliver(context.Background(), e)
	}
}

// Deliver sends e to the author's chat when the author came in through
// Telegram. Other events and authors are skipped.
func (n *Notifier) Deliver(ctx context.Context, e notify.Event) {
	var key string
	switch e.Type {
	case notify.EventStatusChanged:
		key = "notify_status"
	case notify.EventVerificationChanged:
		if e.NewStatus != string(models.VerificationConfirmed) {
			return
		}
		key = "notify_verified"
	default:
		return
	}

	c, err := n.lookup.GetComplaint(ctx, e.ComplaintID)
	if err != nil {
		n.log.Warn("notify: load complaint", logger.String("complaint_id", e.ComplaintID), logger.Error(err))
		return
	}
	author, err := n.lookup.GetUserByID(ctx, c.AuthorID)
	if err != nil || author.TelegramID == nil {
		return
	}

	var text string
	if key == "notify_status" {
		text = n.localizer.Format(author.Language, key, c.ID, c.Title, e.NewStatus)
	} else {
		ref := ""
		if c.LedgerRef != nil {
			ref = *c.LedgerRef
		}
		text = n.localizer.Format(author.Language, key, c.ID, ref)
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(*author.TelegramID, text)); err != nil {
		n.log.Warn("notify: send", logger.String("complaint_id", c.ID), logger.Error(err))
	}
}
