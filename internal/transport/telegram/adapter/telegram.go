package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/format"
	rtsup "relaybot/internal/runtime/supervisor"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"
)

type Config struct {
	Token       string
	Mode        string // poll (default) or webhook
	PollTimeout time.Duration

	// Webhook mode. The handler returned by WebhookHandler must be mounted
	// at the path of PublicURL.
	PublicURL   string
	SecretToken string
	DropPending bool

	// HandoffTimeout bounds how long a decoded update may wait for a full
	// consumer queue before it is dropped.
	HandoffTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	webhook *tele.Webhook
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop, the drop reporter and the stop watcher.
	sup *rtsup.Supervisor

	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash uint64
	http     *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram.adapter"))

	a := &Adapter{cfg: cfg, log: log, http: &http.Client{Timeout: 8 * time.Second}}

	var poller tele.Poller
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModePoll:
		poller = &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: allowedUpdates}
	case ModeWebhook:
		if strings.TrimSpace(cfg.PublicURL) == "" {
			return nil, errors.New("telegram webhook mode needs a public url")
		}
		a.webhook = &tele.Webhook{
			Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.PublicURL},
			SecretToken:    cfg.SecretToken,
			DropUpdates:    cfg.DropPending,
			AllowedUpdates: allowedUpdates,
		}
		poller = a.webhook
	default:
		return nil, fmt.Errorf("unknown telegram mode %q", cfg.Mode)
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: poller,
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b

	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

var allowedUpdates = []string{"message", "callback_query"}

// Username returns the bot's @handle as reported by getMe.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// WebhookHandler returns the HTTP handler receiving Telegram pushes, or nil
// in poll mode. It validates the secret token header itself.
func (a *Adapter) WebhookHandler() http.Handler {
	if a.webhook == nil {
		return nil
	}
	return a.webhook
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	onMessage := func(c tele.Context) error {
		if up, ok := decodeMessage(c.Update().ID, c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	}
	a.bot.Handle(tele.OnText, onMessage)
	a.bot.Handle(tele.OnPhoto, onMessage)

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := decodeCallback(c.Update().ID, c.Callback()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
}

func sender(u *tele.User) kit.Sender {
	if u == nil {
		return kit.Sender{}
	}
	return kit.Sender{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
	}
}

// decodeMessage maps a platform message to exactly one update kind.
// Messages that are neither text nor photo are ignored.
func decodeMessage(updateID int, m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{
		ID:     m.ID,
		ChatID: m.Chat.ID,
		From:   sender(m.Sender),
	}
	up := kit.Update{ID: int64(updateID), Message: msg}

	switch {
	case m.Photo != nil && m.Photo.FileID != "":
		msg.PhotoFileID = m.Photo.FileID
		msg.Caption = m.Caption
		up.Kind = kit.UpdatePhoto
	case m.Text != "":
		msg.Text = m.Text
		if cmd, ok := kit.ParseCommand(m.Text); ok {
			up.Kind = kit.UpdateCommand
			up.Command = &cmd
		} else {
			up.Kind = kit.UpdateText
		}
	default:
		return kit.Update{}, false
	}
	return up, true
}

func decodeCallback(updateID int, cb *tele.Callback) (kit.Update, bool) {
	if cb == nil {
		return kit.Update{}, false
	}
	out := &kit.Callback{
		ID:   cb.ID,
		From: sender(cb.Sender),
		Data: strings.TrimPrefix(cb.Data, "\f"),
	}
	if m := cb.Message; m != nil && m.Chat != nil {
		out.ChatID = m.Chat.ID
		out.MessageID = m.ID
	} else {
		out.ChatID = out.From.ID
	}
	return kit.Update{ID: int64(updateID), Kind: kit.UpdateCallback, Callback: out}, true
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
		return
	default:
	}
	t := time.NewTimer(a.cfg.HandoffTimeout)
	defer t.Stop()
	select {
	case out <- up:
	case <-t.C:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (queue full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop. It can return early on some network failures,
	// so restart it while the context is alive.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("updates started", logx.String("mode", a.mode()), logx.String("bot", a.Username()))
		a.bot.Start()
		a.log.Info("updates stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) mode() string {
	if a.webhook != nil {
		return ModeWebhook
	}
	return ModePoll
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Never block shutdown for too long on a pending getUpdates.
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	if !wasRunning || sup == nil {
		return nil
	}

	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and avoids splitting inside HTML tags when ParseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Skip cuts that would leave a tiny chunk.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, kit.ParseModeHTML) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptions(opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{ParseMode: tele.ParseMode(opt.ParseMode), DisableWebPagePreview: opt.DisablePreview}
	if withMarkup && len(opt.Keyboard) > 0 {
		rows := make([][]tele.InlineButton, 0, len(opt.Keyboard))
		for _, row := range opt.Keyboard {
			btns := make([]tele.InlineButton, 0, len(row))
			for _, b := range row {
				btns = append(btns, tele.InlineButton{Text: b.Text, Data: b.Data})
			}
			rows = append(rows, btns)
		}
		so.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: rows}
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: chatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		// Keyboard goes on the first chunk only.
		msg, err := a.bot.Send(chat, chunk, sendOptions(opt, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: chatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	head, rest := splitCaption(caption, opt.ParseMode)
	photo := &tele.Photo{File: tele.File{FileID: fileID}, Caption: head}
	msg, err := a.bot.Send(&tele.Chat{ID: chatID}, photo, sendOptions(opt, true))
	if err != nil {
		return kit.MessageRef{}, err
	}
	ref := kit.MessageRef{ChatID: chatID, MessageID: msg.ID}
	if rest != "" {
		// The photo is delivered; a failed overflow is not a failed send.
		if _, err := a.SendText(ctx, chatID, rest, &kit.SendOptions{ParseMode: opt.ParseMode, DisablePreview: opt.DisablePreview}); err != nil {
			a.log.Warn("caption overflow not sent", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
	return ref, nil
}

// splitCaption keeps a caption within Telegram's limit and returns the
// overflow for a follow-up text message.
func splitCaption(caption, parseMode string) (head, rest string) {
	n := utf8.RuneCountInString(caption)
	if strings.EqualFold(parseMode, kit.ParseModeHTML) {
		n = format.VisibleLen(format.H(caption))
	}
	if n <= format.CaptionLimit {
		return caption, ""
	}
	chunks := splitTelegramText(caption, format.CaptionLimit, parseMode)
	return chunks[0], strings.Join(chunks[1:], "\n")
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands updates Telegram's global command list (setMyCommands).
// It only performs a network call when the list changes.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}

	type cmd struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []cmd `json:"commands"`
	}{Commands: make([]cmd, 0, len(cmds))}

	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		payload.Commands = append(payload.Commands, cmd{Command: c.Command, Description: d})
		if len(payload.Commands) >= 100 {
			break
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := "https://api.telegram.org/bot" + strings.TrimSpace(a.cfg.Token) + "/setMyCommands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram setMyCommands failed: http=%d", resp.StatusCode)
	}

	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(payload.Commands)))
	return nil
}

var _ kit.Adapter = (*Adapter)(nil)
var _ kit.CommandMenuUpdater = (*Adapter)(nil)
