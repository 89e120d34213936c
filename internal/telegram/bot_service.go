// Package telegram handles the integration with the Telegram Bot API.
// Citizens file complaints through a short conversation and follow them up
// by id; status changes are pushed back to their chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"suarawarga/backend/internal/auth"
	"suarawarga/backend/internal/complaint"
	"suarawarga/backend/internal/localization"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Intake conversation steps stored in the draft.
const (
	StepRegion = "awaiting_region"
	StepText   = "awaiting_text"
)

const (
	channelName    = "telegram"
	langCallbackID = "set_lang_"
)

// Sender is the part of the Bot API the service writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Store holds Telegram users and unfinished intakes.
type Store interface {
	SaveTelegramUserIfNotExists(ctx context.Context, telegramID int64, name string) (*models.User, error)
	SetUserLanguage(ctx context.Context, userID, lang string) error
	SaveDraft(ctx context.Context, chatID int64, draft storage.Draft) error
	GetDraft(ctx context.Context, chatID int64) (*storage.Draft, error)
	ClearDraft(ctx context.Context, chatID int64) error
}

// Intake is the complaint pipeline the bot feeds.
type Intake interface {
	Submit(ctx context.Context, in complaint.SubmitInput) (*complaint.Submission, error)
	View(ctx context.Context, actor auth.Actor, id string) (*models.Complaint, error)
}

// BotService receives Telegram updates and drives the intake conversation.
type BotService struct {
	api       *tgbotapi.BotAPI
	bot       Sender
	store     Store
	intake    Intake
	localizer *localization.Localizer
	log       logger.Logger
}

// NewBotService authorizes against the Bot API with token.
func NewBotService(token string, store Store, intake Intake, localizer *localization.Localizer, log logger.Logger) (*BotService, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorize: %w", err)
	}
	api.Debug = false
	log.Info("telegram bot authorized", logger.String("account", api.Self.UserName))

	s := NewBot(api, store, intake, localizer, log)
	s.api = api
	return s, nil
}

// NewBot builds a service around any Sender. Run needs NewBotService; tests
// feed updates through HandleUpdate.
func NewBot(bot Sender, store Store, intake Intake, localizer *localization.Localizer, log logger.Logger) *BotService {
	return &BotService{
		bot:       bot,
		store:     store,
		intake:    intake,
		localizer: localizer,
		log:       log.With(logger.String("component", "telegram")),
	}
}

// Sender returns what the service writes through, for the notifier.
func (s *BotService) Sender() Sender { return s.bot }

// Run long-polls for updates until ctx is cancelled.
func (s *BotService) Run(ctx context.Context) error {
	if s.api == nil {
		return errors.New("telegram: bot was not created with NewBotService")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.api.GetUpdatesChan(u)
	defer s.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			s.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate routes a single update.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		s.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		s.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (s *BotService) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		s.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	draft, err := s.store.GetDraft(ctx, chatID)
	if err != nil {
		s.log.Error("load draft", logger.Int64("chat_id", chatID), logger.Error(err))
		return
	}
	if draft == nil {
		user, err := s.user(ctx, msg.From)
		if err != nil {
			return
		}
		s.reply(chatID, s.localizer.GetString(user.Language, "use_lapor"))
		return
	}

	switch draft.Step {
	case StepRegion:
		s.handleRegion(ctx, chatID, *draft, msg.Text)
	case StepText:
		s.handleComplaintText(ctx, chatID, *draft, messageText(msg))
	default:
		s.log.Warn("unknown draft step", logger.String("step", draft.Step))
		if err := s.store.ClearDraft(ctx, chatID); err != nil {
			s.log.Warn("clear draft", logger.Int64("chat_id", chatID), logger.Error(err))
		}
	}
}

func (s *BotService) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	user, err := s.user(ctx, msg.From)
	if err != nil {
		return
	}
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		s.reply(chatID, s.localizer.GetString(user.Language, "welcome"))
	case "lapor":
		s.startIntake(ctx, chatID, user)
	case "batal":
		s.cancelIntake(ctx, chatID, user)
	case "status":
		s.handleStatus(ctx, chatID, user, strings.TrimSpace(msg.CommandArguments()))
	case "bahasa", "language":
		s.handleLanguageCommand(chatID, user)
	default:
		s.reply(chatID, s.localizer.GetString(user.Language, "unknown_command"))
	}
}

func (s *BotService) startIntake(ctx context.Context, chatID int64, user *models.User) {
	draft := storage.Draft{Step: StepRegion, AuthorID: user.ID, Language: user.Language}
	if err := s.store.SaveDraft(ctx, chatID, draft); err != nil {
		s.log.Error("save draft", logger.Int64("chat_id", chatID), logger.Error(err))
		s.reply(chatID, s.localizer.GetString(user.Language, "submit_failed"))
		return
	}
	s.reply(chatID, s.localizer.GetString(user.Language, "ask_region"))
}

func (s *BotService) cancelIntake(ctx context.Context, chatID int64, user *models.User) {
	draft, err := s.store.GetDraft(ctx, chatID)
	if err != nil || draft == nil {
		s.reply(chatID, s.localizer.GetString(user.Language, "nothing_to_cancel"))
		return
	}
	if err := s.store.ClearDraft(ctx, chatID); err != nil {
		s.log.Warn("clear draft", logger.Int64("chat_id", chatID), logger.Error(err))
	}
	s.reply(chatID, s.localizer.GetString(user.Language, "cancelled"))
}

func (s *BotService) handleRegion(ctx context.Context, chatID int64, draft storage.Draft, text string) {
	region := strings.TrimSpace(text)
	if region == "" {
		s.reply(chatID, s.localizer.GetString(draft.Language, "region_empty"))
		return
	}
	draft.Region = region
	draft.Step = StepText
	if err := s.store.SaveDraft(ctx, chatID, draft); err != nil {
		s.log.Error("save draft", logger.Int64("chat_id", chatID), logger.Error(err))
		s.reply(chatID, s.localizer.GetString(draft.Language, "submit_failed"))
		return
	}
	s.reply(chatID, s.localizer.GetString(draft.Language, "ask_text"))
}

func (s *BotService) handleComplaintText(ctx context.Context, chatID int64, draft storage.Draft, text string) {
	sub, err := s.intake.Submit(ctx, complaint.SubmitInput{
		AuthorID: draft.AuthorID,
		Text:     text,
		Region:   draft.Region,
		Channel:  channelName,
	})
	switch {
	case errors.Is(err, complaint.ErrInvalidInput):
		s.reply(chatID, s.localizer.GetString(draft.Language, "text_invalid"))
		return
	case err != nil:
		s.log.Error("submit complaint", logger.Int64("chat_id", chatID), logger.Error(err))
		s.reply(chatID, s.localizer.GetString(draft.Language, "submit_failed"))
		return
	}

	if err := s.store.ClearDraft(ctx, chatID); err != nil {
		s.log.Warn("clear draft", logger.Int64("chat_id", chatID), logger.Error(err))
	}
	c := sub.Complaint
	s.reply(chatID, s.localizer.Format(draft.Language, "submitted", c.ID, c.Category, c.Status))
}

func (s *BotService) handleStatus(ctx context.Context, chatID int64, user *models.User, id string) {
	if id == "" {
		s.reply(chatID, s.localizer.GetString(user.Language, "status_usage"))
		return
	}

	c, err := s.intake.View(ctx, auth.Actor{ID: user.ID, Role: user.Role}, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.reply(chatID, s.localizer.GetString(user.Language, "status_not_found"))
		return
	case errors.Is(err, complaint.ErrForbidden):
		s.reply(chatID, s.localizer.GetString(user.Language, "status_forbidden"))
		return
	case err != nil:
		s.log.Error("view complaint", logger.String("complaint_id", id), logger.Error(err))
		s.reply(chatID, s.localizer.GetString(user.Language, "submit_failed"))
		return
	}

	text := s.localizer.Format(user.Language, "status_line", c.ID, c.Title, c.Status, c.VerificationStatus)
	if c.LedgerRef != nil && c.VerificationStatus == models.VerificationConfirmed {
		text += "\n" + s.localizer.Format(user.Language, "status_ref", *c.LedgerRef)
	}
	s.reply(chatID, text)
}

// handleLanguageCommand sends a keyboard with one button per language.
func (s *BotService) handleLanguageCommand(chatID int64, user *models.User) {
	row := make([]tgbotapi.InlineKeyboardButton, 0, 2)
	for _, lang := range s.localizer.Languages() {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(languageName(lang), langCallbackID+lang))
	}
	msg := tgbotapi.NewMessage(chatID, s.localizer.GetString(user.Language, "choose_language"))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	if _, err := s.bot.Send(msg); err != nil {
		s.log.Warn("send language keyboard", logger.Int64("chat_id", chatID), logger.Error(err))
	}
}

func (s *BotService) handleCallbackQuery(ctx context.Context, q *tgbotapi.CallbackQuery) {
	// Stops the loading animation on the button.
	if _, err := s.bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		s.log.Debug("answer callback", logger.Error(err))
	}

	lang, ok := strings.CutPrefix(q.Data, langCallbackID)
	if !ok || !s.localizer.Supports(lang) || q.Message == nil {
		return
	}
	user, err := s.user(ctx, q.From)
	if err != nil {
		return
	}
	if err := s.store.SetUserLanguage(ctx, user.ID, lang); err != nil {
		s.log.Error("set language", logger.String("user_id", user.ID), logger.Error(err))
		return
	}

	if draft, err := s.store.GetDraft(ctx, q.Message.Chat.ID); err == nil && draft != nil {
		draft.Language = lang
		if err := s.store.SaveDraft(ctx, q.Message.Chat.ID, *draft); err != nil {
			s.log.Warn("save draft", logger.Int64("chat_id", q.Message.Chat.ID), logger.Error(err))
		}
	}
	s.reply(q.Message.Chat.ID, s.localizer.GetString(lang, "language_set"))
}

func (s *BotService) user(ctx context.Context, from *tgbotapi.User) (*models.User, error) {
	user, err := s.store.SaveTelegramUserIfNotExists(ctx, from.ID, displayName(from))
	if err != nil {
		s.log.Error("resolve telegram user", logger.Int64("telegram_id", from.ID), logger.Error(err))
		return nil, err
	}
	if user.Language == "" {
		user.Language = localization.DefaultLanguage
	}
	return user, nil
}

func (s *BotService) reply(chatID int64, text string) {
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		s.log.Warn("send message", logger.Int64("chat_id", chatID), logger.Error(err))
	}
}

// messageText uniformly extracts text or a caption from a message.
func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}

func languageName(lang string) string {
	switch lang {
	case "id":
		return "Bahasa Indonesia"
	case "en":
		return "English"
	default:
		return lang
	}
}
