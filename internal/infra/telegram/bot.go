package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-vpn-shop/internal/config"
	"telegram-vpn-shop/internal/domain"
	"telegram-vpn-shop/internal/domain/model"
	"telegram-vpn-shop/internal/domain/ports/repository"
	"telegram-vpn-shop/internal/infra/logging"
	"telegram-vpn-shop/internal/usecase"
)

// Bot is the subscriber-facing conversation surface: tariff selection,
// invoicing over Telegram Payments, and the payment finalization entry point.
// Every flow position lives server-side; callback data only names the step
// the user asks for, and the state machine decides whether it is legal.
type Bot struct {
	bot         *tgbotapi.BotAPI
	cfg         *config.BotConfig
	subscribers repository.SubscriberRepository
	tariffs     repository.TariffRepository
	subs        repository.SubscriptionRepository
	purchase    usecase.PurchaseUseCase
	pricing     usecase.PricingUseCase
	finalizer   usecase.FinalizeUseCase
	log         *zerolog.Logger

	cancelPolling context.CancelFunc
}

func NewBot(
	cfg *config.BotConfig,
	subscribers repository.SubscriberRepository,
	tariffs repository.TariffRepository,
	subs repository.SubscriptionRepository,
	purchase usecase.PurchaseUseCase,
	pricing usecase.PricingUseCase,
	finalizer usecase.FinalizeUseCase,
	logger *zerolog.Logger,
) (*Bot, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	l := logger.With().Str("component", "TelegramBot").Logger()
	l.Info().Str("bot", bot.Self.UserName).Msg("telegram bot ready")
	return &Bot{
		bot: bot, cfg: cfg,
		subscribers: subscribers, tariffs: tariffs, subs: subs,
		purchase: purchase, pricing: pricing, finalizer: finalizer,
		log: &l,
	}, nil
}

// StartPolling consumes updates with a small worker pool until ctx ends.
func (b *Bot) StartPolling(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.bot.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	b.cancelPolling = cancel

	var wg sync.WaitGroup
	for i := 0; i < b.cfg.UpdateWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case update, ok := <-updates:
					if !ok {
						return
					}
					b.handleUpdate(ctx, update)
				}
			}
		}()
	}

	<-ctx.Done()
	b.bot.StopReceivingUpdates()
	wg.Wait()
	return ctx.Err()
}

func (b *Bot) Stop() {
	if b.cancelPolling != nil {
		b.cancelPolling()
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error().Interface("panic", rec).Msg("panic in update handler")
		}
	}()

	switch {
	case update.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		b.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	subscriberID := msg.Chat.ID
	ctx = logging.WithSubscriberID(ctx, subscriberID)

	switch msg.Command() {
	case "start":
		b.register(ctx, msg)
		b.reply(subscriberID, "Welcome! Use /buy to purchase VPN access or /status to check your subscription.")
	case "buy":
		b.showTariffs(ctx, subscriberID)
	case "status":
		b.showStatus(ctx, subscriberID)
	case "promo":
		b.applyPromo(ctx, subscriberID, strings.TrimSpace(msg.CommandArguments()))
	case "cancel":
		_ = b.purchase.Abandon(ctx, subscriberID)
		b.reply(subscriberID, "Purchase cancelled.")
	default:
		b.reply(subscriberID, "Commands: /buy, /status, /promo <code>, /cancel")
	}
}

// register upserts the subscriber row. A "ref_<id>" deep-link payload records
// who brought the subscriber in; self-referrals are ignored.
func (b *Bot) register(ctx context.Context, msg *tgbotapi.Message) {
	id := msg.Chat.ID
	if _, err := b.subscribers.FindByID(ctx, repository.NoTX, id); err == nil {
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		b.log.Error().Err(err).Int64("subscriber_id", id).Msg("subscriber lookup failed")
		return
	}

	sub := &model.Subscriber{ID: id, RegisteredAt: time.Now()}
	if msg.From != nil {
		sub.Username = msg.From.UserName
	}
	if arg := msg.CommandArguments(); strings.HasPrefix(arg, "ref_") {
		if ref, err := strconv.ParseInt(strings.TrimPrefix(arg, "ref_"), 10, 64); err == nil && ref > 0 && ref != id {
			sub.ReferrerID = &ref
		}
	}
	if err := b.subscribers.Save(ctx, repository.NoTX, sub); err != nil {
		b.log.Error().Err(err).Int64("subscriber_id", id).Msg("subscriber registration failed")
	}
}

func (b *Bot) showStatus(ctx context.Context, subscriberID int64) {
	sub, err := b.subs.FindBySubscriber(ctx, repository.NoTX, subscriberID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			b.reply(subscriberID, "You have no subscription yet. Use /buy to get one.")
			return
		}
		b.reply(subscriberID, "Could not load your subscription, please try again later.")
		return
	}
	switch {
	case sub.IsActive(time.Now()):
		b.reply(subscriberID, "Your subscription is active until "+sub.ExpiresAt.Format("2006-01-02 15:04 MST")+".")
	case sub.ActivationStatus == model.ActivationPending:
		b.reply(subscriberID, "Your payment is confirmed; the access key is being prepared and will arrive shortly.")
	default:
		b.reply(subscriberID, "Your subscription has expired. Use /buy to renew; remaining time is never lost on renewal.")
	}
}

func (b *Bot) showTariffs(ctx context.Context, subscriberID int64) {
	plans, err := b.tariffs.ListActive(ctx, repository.NoTX)
	if err != nil || len(plans) == 0 {
		b.reply(subscriberID, "No tariffs are available right now.")
		return
	}
	if _, err := b.purchase.Advance(ctx, subscriberID, model.StateChoosingTariff, nil); err != nil {
		b.replyFlowError(subscriberID, err)
		return
	}

	seen := map[string]bool{}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range plans {
		if seen[p.Tariff] {
			continue
		}
		seen[p.Tariff] = true
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(p.Tariff, "tariff:"+p.Tariff),
		))
	}
	out := tgbotapi.NewMessage(subscriberID, "Choose a tariff:")
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(out)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	subscriberID := cb.Message.Chat.ID
	ctx = logging.WithSubscriberID(ctx, subscriberID)
	defer func() {
		_, _ = b.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	}()

	action, rest, _ := strings.Cut(cb.Data, ":")
	switch action {
	case "tariff":
		b.showPeriods(ctx, subscriberID, rest)
	case "period":
		tariff, daysStr, ok := strings.Cut(rest, ":")
		if !ok {
			return
		}
		days, err := strconv.Atoi(daysStr)
		if err != nil {
			return
		}
		b.showQuote(ctx, subscriberID, tariff, days)
	case "pay":
		b.sendInvoice(ctx, subscriberID)
	}
}

func (b *Bot) showPeriods(ctx context.Context, subscriberID int64, tariff string) {
	if _, err := b.purchase.Advance(ctx, subscriberID, model.StateChoosingPeriod, func(f *repository.PurchaseFlow) {
		f.Tariff = tariff
	}); err != nil {
		b.replyFlowError(subscriberID, err)
		return
	}

	plans, err := b.tariffs.ListActive(ctx, repository.NoTX)
	if err != nil {
		b.reply(subscriberID, "Could not load periods, please try again.")
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range plans {
		if p.Tariff != tariff {
			continue
		}
		label := fmt.Sprintf("%d days / %s", p.PeriodDays, b.money(p.Price))
		data := fmt.Sprintf("period:%s:%d", p.Tariff, p.PeriodDays)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)))
	}
	out := tgbotapi.NewMessage(subscriberID, "Choose a period:")
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(out)
}

func (b *Bot) showQuote(ctx context.Context, subscriberID int64, tariff string, days int) {
	flow, err := b.purchase.Advance(ctx, subscriberID, model.StateChoosingPaymentMethod, func(f *repository.PurchaseFlow) {
		f.Tariff = tariff
		f.PeriodDays = days
	})
	if err != nil {
		b.replyFlowError(subscriberID, err)
		return
	}

	snap, err := b.pricing.Calculate(ctx, subscriberID, tariff, days, flow.PromoCode)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTariff) {
			b.reply(subscriberID, "That tariff is no longer available. Use /buy to start over.")
			return
		}
		b.reply(subscriberID, "Could not calculate the price, please try again.")
		return
	}

	text := fmt.Sprintf("%s, %d days: %s", tariff, days, b.money(snap.Final))
	if snap.DiscountPercent > 0 {
		text += fmt.Sprintf(" (%d%% off, was %s)", snap.DiscountPercent, b.money(snap.Base))
	}
	text += "\nHave a promo code? Send /promo <code> before paying."
	out := tgbotapi.NewMessage(subscriberID, text)
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Pay", "pay:")),
	)
	b.send(out)
}

// applyPromo stores the code on the flow; the price the subscriber finally
// pays is re-quoted so the invoice and the stored intent always agree.
func (b *Bot) applyPromo(ctx context.Context, subscriberID int64, code string) {
	if code == "" {
		b.reply(subscriberID, "Usage: /promo <code>")
		return
	}
	flow, err := b.purchase.Advance(ctx, subscriberID, model.StateChoosingPaymentMethod, func(f *repository.PurchaseFlow) {
		f.PromoCode = code
	})
	if err != nil {
		b.reply(subscriberID, "Pick a tariff and period first: /buy")
		return
	}
	b.showQuote(ctx, subscriberID, flow.Tariff, flow.PeriodDays)
}

// sendInvoice snapshots the quote into an intent and issues the invoice. The
// invoice payload carries only the intent id; everything the finalizer needs
// is server-side.
func (b *Bot) sendInvoice(ctx context.Context, subscriberID int64) {
	var intent *model.PurchaseIntent
	flow, err := b.purchase.Advance(ctx, subscriberID, model.StateProcessingPayment, nil)
	if err != nil {
		b.replyFlowError(subscriberID, err)
		return
	}

	intent, err = b.purchase.CreateIntent(ctx, subscriberID, flow.Tariff, flow.PeriodDays, flow.PromoCode)
	if err != nil {
		b.log.Error().Err(err).Int64("subscriber_id", subscriberID).Msg("intent creation failed")
		b.reply(subscriberID, "Could not prepare the payment, please try /buy again.")
		return
	}
	_, _ = b.purchase.Advance(ctx, subscriberID, model.StateProcessingPayment, func(f *repository.PurchaseFlow) {
		f.IntentID = intent.ID
	})

	title := fmt.Sprintf("VPN %s, %d days", intent.Tariff, intent.PeriodDays)
	inv := tgbotapi.NewInvoice(
		subscriberID,
		title,
		"VPN subscription access",
		string(model.PayloadPurchase)+":"+intent.ID,
		b.cfg.PaymentToken,
		"",
		b.cfg.Currency,
		[]tgbotapi.LabeledPrice{{Label: title, Amount: int(intent.FinalPrice)}},
	)
	if _, err := b.bot.Request(inv); err != nil {
		b.log.Error().Err(err).Int64("subscriber_id", subscriberID).Msg("invoice send failed")
		b.reply(subscriberID, "Could not send the invoice, please try again.")
	}
}

// handlePreCheckout is the last gate before Telegram charges the card: the
// intent must still be usable and the charged amount must equal the stored
// price exactly.
func (b *Bot) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}

	ref, err := model.ParsePayload(q.InvoicePayload)
	if err != nil || ref.Kind != model.PayloadPurchase {
		answer.OK = false
		answer.ErrorMessage = "This payment is no longer valid."
	} else if intent, err := b.purchase.GetIntent(ctx, ref.IntentID, q.From.ID); err != nil {
		answer.OK = false
		answer.ErrorMessage = "Your purchase session expired. Please start over with /buy."
	} else if int64(q.TotalAmount) != intent.FinalPrice {
		answer.OK = false
		answer.ErrorMessage = "The price has changed. Please start over with /buy."
	}

	if _, err := b.bot.Request(answer); err != nil {
		b.log.Error().Err(err).Msg("pre-checkout answer failed")
	}
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	sp := msg.SuccessfulPayment
	subscriberID := msg.Chat.ID
	ctx = logging.WithSubscriberID(ctx, subscriberID)

	_, err := b.finalizer.Finalize(ctx, model.PaymentEvent{
		Provider:         "telegram",
		ProviderChargeID: sp.TelegramPaymentChargeID,
		Amount:           int64(sp.TotalAmount),
		Payload:          sp.InvoicePayload,
	})
	_ = b.purchase.Abandon(ctx, subscriberID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyProcessing):
			// A concurrent delivery of the same charge is finishing the work.
		case errors.Is(err, domain.ErrStaleContext), errors.Is(err, domain.ErrAmountMismatch):
			b.reply(subscriberID, "We received your payment but could not match it to a purchase. Support has been notified and will resolve it shortly.")
		default:
			b.log.Error().Err(err).Str("charge_id", sp.TelegramPaymentChargeID).Msg("finalization failed")
			b.reply(subscriberID, "We received your payment and are processing it. You will get your key shortly.")
		}
	}
	// Success messaging goes through the idempotent dispatcher inside the
	// finalizer, so nothing is sent from here.
}

func (b *Bot) replyFlowError(subscriberID int64, err error) {
	if errors.Is(err, domain.ErrInvalidTransition) {
		b.reply(subscriberID, "That step is no longer valid. Use /buy to start over.")
		return
	}
	b.reply(subscriberID, "Something went wrong, please try again.")
}

func (b *Bot) money(minor int64) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, b.cfg.Currency)
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.bot.Send(c); err != nil {
		b.log.Warn().Err(err).Msg("telegram send failed")
	}
}
