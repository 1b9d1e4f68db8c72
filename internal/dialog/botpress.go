package dialog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Botpress talks to the Botpress Cloud chat API. Each Reply creates (or
// reuses, server-side) the user's conversation, posts the message, waits
// PollDelay, then reads back the latest outgoing bot message.
type Botpress struct {
	BaseURL   string // e.g. https://api.botpress.cloud/v1
	APIKey    string
	BotID     string
	PollDelay time.Duration
	HTTP      *http.Client
}

type bpPayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bpMessage struct {
	Direction string    `json:"direction"`
	Payload   bpPayload `json:"payload"`
}

// Reply sends text and returns the latest bot message, if any.
func (b *Botpress) Reply(ctx context.Context, userID int64, text string) (Reply, error) {
	var conv struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
	}
	if err := b.do(ctx, http.MethodPost, "/chat/conversations",
		map[string]string{"userId": strconv.FormatInt(userID, 10)}, &conv); err != nil {
		return Reply{}, err
	}
	if conv.Conversation.ID == "" {
		return Reply{}, fmt.Errorf("botpress: empty conversation id")
	}

	msg := map[string]any{
		"conversationId": conv.Conversation.ID,
		"payload":        bpPayload{Type: "text", Text: text},
	}
	if err := b.do(ctx, http.MethodPost, "/chat/messages", msg, nil); err != nil {
		return Reply{}, err
	}

	if b.PollDelay > 0 {
		t := time.NewTimer(b.PollDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Reply{}, ctx.Err()
		case <-t.C:
		}
	}

	var list struct {
		Messages []bpMessage `json:"messages"`
	}
	if err := b.do(ctx, http.MethodGet,
		"/chat/conversations/"+url.PathEscape(conv.Conversation.ID)+"/messages", nil, &list); err != nil {
		return Reply{}, err
	}

	var out Reply
	for i := len(list.Messages) - 1; i >= 0; i-- {
		m := list.Messages[i]
		if m.Direction == "outgoing" && strings.TrimSpace(m.Payload.Text) != "" {
			out.Messages = []string{strings.TrimSpace(m.Payload.Text)}
			break
		}
	}
	return out, nil
}

func (b *Botpress) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(b.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.APIKey)
	req.Header.Set("x-bot-id", b.BotID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := b.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkStatus(ProviderBotpress, res); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("botpress: decode %s: %w", path, err)
	}
	return nil
}
