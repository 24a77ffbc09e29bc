package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	"jtechpush/internal/presenter"
)

const textLimit = 4000

// Sink posts notifications to one chat. The click target becomes an inline
// URL button on the first message.
type Sink struct {
	api      sender
	chat     *tele.Chat
	threadID int
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) Show(ctx context.Context, n presenter.Notification) error {
	text := formatNotification(n)
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              s.threadID,
		}
		if i == 0 && n.Click != "" {
			rm := &tele.ReplyMarkup{}
			rm.Inline(rm.Row(rm.URL("Open", n.Click)))
			opt.ReplyMarkup = rm
		}
		if _, err := s.api.Send(s.chat, chunk, opt); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func formatNotification(n presenter.Notification) string {
	var b strings.Builder
	if t := strings.TrimSpace(n.Title); t != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(t))
		b.WriteString("</b>\n")
	}
	b.WriteString(html.EscapeString(n.Body))
	return b.String()
}

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries and never cutting inside an HTML tag.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			// Prefer a newline near the end of the window, but avoid tiny chunks.
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
			// Move a dangling tag to the next chunk.
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

		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
