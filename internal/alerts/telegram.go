package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const requestTimeout = 5 * time.Second

// TelegramClient talks to the Telegram Bot API.
type TelegramClient struct {
	baseURL  string
	botToken string
	http     *http.Client
}

func NewTelegramClient(baseURL, botToken string) *TelegramClient {
	return &TelegramClient{
		baseURL:  baseURL,
		botToken: botToken,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

// Enabled reports whether a bot token is configured.
func (c *TelegramClient) Enabled() bool {
	return c.botToken != ""
}

func (c *TelegramClient) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.botToken, method)
}

// SendMessage posts a text message to a chat.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text, parseMode string) error {
	payload := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage status %d", resp.StatusCode)
	}
	return nil
}

// Update is one long-poll result from getUpdates.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// GetUpdates long-polls the bot API. The HTTP timeout is stretched past the
// poll window for this call only.
func (c *TelegramClient) GetUpdates(ctx context.Context, offset int64, pollSeconds int) ([]Update, error) {
	url := fmt.Sprintf("%s?timeout=%d", c.apiURL("getUpdates"), pollSeconds)
	if offset != 0 {
		url = fmt.Sprintf("%s&offset=%d", url, offset)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: time.Duration(pollSeconds+10) * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram getUpdates status %d", resp.StatusCode)
	}

	var out struct {
		OK     bool     `json:"ok"`
		Result []Update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Result, nil
}
