package alerts

import (
	"context"
	"fmt"
	"log"
	"time"
)

const pollSeconds = 30

// Poller long-polls the bot API and replies to any inbound message with the
// sender's chat id, so shop owners can discover the id to configure as
// their alert target. Owned by the lifecycle controller.
type Poller struct {
	client *TelegramClient
	offset int64
}

func NewPoller(client *TelegramClient) *Poller {
	return &Poller{client: client}
}

// Run blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	if !p.client.Enabled() {
		log.Printf("[Telegram] No bot token configured, poller disabled")
		return
	}
	log.Printf("[Telegram] Poller started")

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Poller stopped")
			return
		default:
		}

		updates, err := p.client.GetUpdates(ctx, p.offset, pollSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Telegram] WARN getUpdates failed: %v", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			chatID := fmt.Sprintf("%d", u.Message.Chat.ID)
			reply := fmt.Sprintf(
				"✅ *Your Chat ID*\n\n`%s`\n\nPaste this ID into VisionGuard AI to receive anomaly notifications.",
				chatID,
			)
			if err := p.client.SendMessage(ctx, chatID, reply, "Markdown"); err != nil {
				log.Printf("[Telegram] WARN reply to chat %s failed: %v", chatID, err)
			}
		}
	}
}
