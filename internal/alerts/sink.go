package alerts

import (
	"context"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/visionguard/visionguard/internal/data"
	"github.com/visionguard/visionguard/internal/stream"
)

const cooldownCacheSize = 1024

// ShopDirectory resolves a shop's alert target, satisfied by data.ShopModel.
type ShopDirectory interface {
	Get(ctx context.Context, shopID string) (*data.Shop, error)
}

// Sender sends the text summary, satisfied by TelegramClient.
type Sender interface {
	Enabled() bool
	SendMessage(ctx context.Context, chatID, text, parseMode string) error
}

// Sink forwards a compact text summary of an anomaly to the shop's
// configured external alert target. Best-effort: failures are logged at
// WARN and never reach the primary path. Per (shop, person) cool-down keeps
// consecutive abnormal frames from flooding the chat.
type Sink struct {
	shops    ShopDirectory
	sender   Sender
	cooldown *lru.Cache[string, time.Time]
	period   time.Duration
}

func NewSink(shops ShopDirectory, sender Sender, cooldown time.Duration) *Sink {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	c, _ := lru.New[string, time.Time](cooldownCacheSize)
	return &Sink{shops: shops, sender: sender, cooldown: c, period: cooldown}
}

// NotifyAnomaly implements hub.Notifier.
func (s *Sink) NotifyAnomaly(ctx context.Context, alert stream.AnomalyAlert) {
	if s.sender == nil || !s.sender.Enabled() {
		return
	}

	key := fmt.Sprintf("%s|%d", alert.ShopID, alert.Result.PersonID)
	if sentAt, ok := s.cooldown.Get(key); ok && time.Since(sentAt) < s.period {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	shop, err := s.shops.Get(ctx, alert.ShopID)
	if err != nil {
		log.Printf("[Alerts] WARN shop lookup failed for %s: %v", alert.ShopID, err)
		return
	}
	if shop.AlertTarget == nil || *shop.AlertTarget == "" {
		return
	}

	text := fmt.Sprintf(
		"🚨 *Anomaly Detected*\n\n*Shop:* %s\n*Person:* %d\n*Score:* %.2f\n*Confidence:* %s\n*Time:* %s",
		shop.Name,
		alert.Result.PersonID,
		alert.Result.Score,
		alert.Result.Confidence,
		time.Now().UTC().Format(time.RFC3339),
	)

	if err := s.sender.SendMessage(ctx, *shop.AlertTarget, text, "Markdown"); err != nil {
		log.Printf("[Alerts] WARN telegram send failed for shop %s: %v", alert.ShopID, err)
		return
	}
	s.cooldown.Add(key, time.Now())
}
