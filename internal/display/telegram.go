package display

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"jiranotifier/internal/background"
	"jiranotifier/internal/host"
	logx "jiranotifier/pkg/logx"
)

const telegramTextLimit = 4000

// Telegram posts notifications to a chat. The deep link becomes an inline URL
// button, so clicks open in the Telegram client and never reach the router.
type Telegram struct {
	cfg     TelegramConfig
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
	shown   *tracked
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram: chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return newTelegram(cfg, b, log), nil
}

func newTelegram(cfg TelegramConfig, b *tele.Bot, log logx.Logger) *Telegram {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Telegram{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		shown:   newTracked(trackedCapacity),
	}
}

func (d *Telegram) Show(ctx context.Context, title string, opt host.DisplayOptions) (host.Handle, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              d.cfg.ThreadID,
	}
	if target, err := resolve(opt); err == nil {
		rm := &tele.ReplyMarkup{}
		rm.Inline(rm.Row(rm.URL("Open", target)))
		sendOpt.ReplyMarkup = rm
	}

	msg, err := d.bot.Send(&tele.Chat{ID: d.cfg.ChatID}, formatTelegram(title, opt.Body), sendOpt)
	if err != nil {
		return nil, err
	}
	h := &telegramHandle{msg: msg, d: d}
	d.shown.put(h, opt.Data)
	return h, nil
}

func (d *Telegram) Lookup(id string) (background.Activation, bool) { return d.shown.get(id) }

func (d *Telegram) Activations() <-chan background.Activation { return nil }

func (d *Telegram) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (d *Telegram) Close() error { return nil }

// formatTelegram renders the message as HTML, title in bold.
func formatTelegram(title, body string) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>")
	if body = strings.TrimSpace(body); body != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(truncateRunes(body, telegramTextLimit-len([]rune(title))-16)))
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}

type telegramHandle struct {
	msg *tele.Message
	d   *Telegram
}

func (h *telegramHandle) ID() string {
	return strconv.FormatInt(h.d.cfg.ChatID, 10) + ":" + strconv.Itoa(h.msg.ID)
}

// Close deletes the chat message.
func (h *telegramHandle) Close(ctx context.Context) error {
	h.d.shown.forget(h.ID())
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- h.d.bot.Delete(h.msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errors.New("telegram: delete timed out")
	}
}
