// Package telegram is the Bot API transport: it receives updates (webhook
// or long polling), turns button presses and payments into ledger calls,
// relays free text to the dialog provider, and keeps channel posts in sync.
package telegram

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownAction is returned for callback data that does not decode to a
// known action.
var ErrUnknownAction = errors.New("unknown callback action")

// Action kinds carried by inline buttons.
const (
	KindVoteUp   = "vote_up"
	KindVoteDown = "vote_down"
	KindUnvote   = "unvote"
	KindPriority = "priority"
)

// Action is a decoded button press.
type Action struct {
	Kind      string
	RequestID int64
}

const actionPrefix = "v1:"

// wire codes keep callback data under the 64-byte Bot API limit.
const (
	codeVoteUp uint8 = iota + 1
	codeVoteDown
	codeUnvote
	codePriority
)

var kindCodes = map[string]uint8{
	KindVoteUp:   codeVoteUp,
	KindVoteDown: codeVoteDown,
	KindUnvote:   codeUnvote,
	KindPriority: codePriority,
}

// packed is the compact msgpack form.
type packed struct {
	Code      uint8 `msgpack:"a"`
	RequestID int64 `msgpack:"r"`
}

// EncodeAction renders a as callback data.
func EncodeAction(a Action) (string, error) {
	code, ok := kindCodes[a.Kind]
	if !ok || a.RequestID <= 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	b, err := msgpack.Marshal(&packed{Code: code, RequestID: a.RequestID})
	if err != nil {
		return "", err
	}
	return actionPrefix + base64.StdEncoding.EncodeToString(b), nil
}

// DecodeAction parses callback data. Besides the v1 form it accepts the
// plain-text forms older posts still carry: vote_up_<id>, vote_down_<id>,
// pay_priority_<id>, vote:<id> (an up vote) and unvote:<id>.
func DecodeAction(data string) (Action, error) {
	data = strings.TrimSpace(data)
	if rest, ok := strings.CutPrefix(data, actionPrefix); ok {
		return decodePacked(rest)
	}
	for _, l := range legacyForms {
		if rest, ok := strings.CutPrefix(data, l.prefix); ok {
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil || id <= 0 {
				return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, data)
			}
			return Action{Kind: l.kind, RequestID: id}, nil
		}
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUnknownAction, data)
}

var legacyForms = []struct{ prefix, kind string }{
	{"vote_up_", KindVoteUp},
	{"vote_down_", KindVoteDown},
	{"pay_priority_", KindPriority},
	{"unvote:", KindUnvote},
	{"vote:", KindVoteUp},
}

func decodePacked(s string) (Action, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrUnknownAction, err)
	}
	var p packed
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrUnknownAction, err)
	}
	for kind, code := range kindCodes {
		if code == p.Code && p.RequestID > 0 {
			return Action{Kind: kind, RequestID: p.RequestID}, nil
		}
	}
	return Action{}, fmt.Errorf("%w: code %d", ErrUnknownAction, p.Code)
}
