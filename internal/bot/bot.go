package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-rank-bot/internal/audit"
	"telegram-rank-bot/internal/config"
	"telegram-rank-bot/internal/handler"
	"telegram-rank-bot/internal/pkg/lock"
	"telegram-rank-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	verifyHandler *handler.VerifyHandler
	rankHandler   *handler.RankHandler
	adminHandler  *handler.AdminHandler
}

// Dependencies holds everything the bot handlers need.
type Dependencies struct {
	Config         *config.Config
	Verifier       *service.Verifier
	AccountService *service.AccountService
	LockService    *service.LockService
	Roles          *service.RoleStateMachine
	Trail          *audit.Trail
	IdentityLock   *lock.IdentityLock
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot: teleBot,
		cfg: deps.Config,
	}

	b.verifyHandler = handler.NewVerifyHandler(deps.Verifier, deps.IdentityLock)
	b.rankHandler = handler.NewRankHandler(deps.AccountService)
	b.adminHandler = handler.NewAdminHandler(deps.LockService, deps.Roles, deps.Trail)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and media handlers.
func (b *Bot) registerHandlers() {
	// Screenshot intake
	b.bot.Handle(tele.OnPhoto, b.verifyHandler.HandlePhoto)
	b.bot.Handle(tele.OnDocument, b.verifyHandler.HandleDocument)

	// Member commands
	b.bot.Handle("/start", b.rankHandler.HandleStart)
	b.bot.Handle("/verify", b.rankHandler.HandleStart)
	b.bot.Handle("/rank", b.rankHandler.HandleRank)
	b.bot.Handle("/setprimary", b.rankHandler.HandleSetPrimary)

	// Admin commands
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/unlink", b.adminHandler.HandleUnlink)
	adminGroup.Handle("/clearroles", b.adminHandler.HandleClearRoles)
	adminGroup.Handle("/rankstats", b.adminHandler.HandleStats)
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

// Telebot returns the underlying telebot instance.
func (b *Bot) Telebot() *tele.Bot {
	return b.bot
}
