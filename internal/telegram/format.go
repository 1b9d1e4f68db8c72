package telegram

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/gosimple/slug"

	"github.com/tbourn/ideabot/internal/domain"
)

// FormatRequest renders the HTML body of a request's channel post.
func FormatRequest(req *domain.FeatureRequest, tally domain.Tally) string {
	var b strings.Builder
	b.WriteString("🧩 <b>")
	b.WriteString(html.EscapeString(req.Title))
	b.WriteString("</b>\n\n")
	b.WriteString(html.EscapeString(req.Description))
	b.WriteString("\n\n")

	if tags := Hashtags(req.Tags); tags != "" {
		b.WriteString(html.EscapeString(tags))
		b.WriteString("\n")
	}
	author := "—"
	switch {
	case req.AuthorName != "":
		author = "@" + strings.TrimPrefix(req.AuthorName, "@")
	case req.AuthorID != nil:
		author = "id:" + strconv.FormatInt(*req.AuthorID, 10)
	}
	fmt.Fprintf(&b, "Author: %s\n", html.EscapeString(author))
	fmt.Fprintf(&b, "ID: <code>%d</code>\n", req.ID)
	fmt.Fprintf(&b, "Score: <b>%+d</b>", tally.Total)
	if req.HasPriority || tally.Boost > 0 {
		b.WriteString(" ⭐")
	}
	return b.String()
}

// Hashtags turns a comma-joined tag list into space-separated hashtags.
// Tags are transliterated and slugged; hyphens become underscores because
// Telegram ends a hashtag at '-'.
func Hashtags(tags string) string {
	var out []string
	for _, t := range strings.Split(tags, ",") {
		s := strings.ReplaceAll(slug.Make(strings.TrimSpace(t)), "-", "_")
		if s != "" {
			out = append(out, "#"+s)
		}
	}
	return strings.Join(out, " ")
}

// Keyboard builds the voting controls for a request post.
func Keyboard(requestID int64, tally domain.Tally, priorityStars int) (*models.InlineKeyboardMarkup, error) {
	btn := func(label, kind string) (models.InlineKeyboardButton, error) {
		data, err := EncodeAction(Action{Kind: kind, RequestID: requestID})
		return models.InlineKeyboardButton{Text: label, CallbackData: data}, err
	}
	labels := []struct{ text, kind string }{
		{fmt.Sprintf("👍 Up (%d)", tally.Up), KindVoteUp},
		{fmt.Sprintf("👎 Down (%d)", tally.Down), KindVoteDown},
		{"↩️ Unvote", KindUnvote},
		{fmt.Sprintf("⭐ Priority (%d stars)", priorityStars), KindPriority},
	}
	buttons := make([]models.InlineKeyboardButton, 0, len(labels))
	for _, l := range labels {
		b, err := btn(l.text, l.kind)
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, b)
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{buttons[:3], buttons[3:]},
	}, nil
}
