package dialog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Voiceflow talks to the Voiceflow Dialog Manager runtime API.
type Voiceflow struct {
	BaseURL string // e.g. https://general-runtime.voiceflow.com
	APIKey  string
	Version string // version id or alias ("production")
	HTTP    *http.Client
}

type vfRequest struct {
	Request vfAction `json:"request"`
}

type vfAction struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type vfTrace struct {
	Type    string `json:"type"`
	Payload struct {
		Message string `json:"message"`
	} `json:"payload"`
}

// Reply posts text as a user turn and collects the text/speak traces.
// An "end" trace marks the dialog as ready to publish.
func (v *Voiceflow) Reply(ctx context.Context, userID int64, text string) (Reply, error) {
	body, err := json.Marshal(vfRequest{Request: vfAction{Type: "text", Payload: text}})
	if err != nil {
		return Reply{}, err
	}
	u := fmt.Sprintf("%s/state/%s/user/%s/interact",
		strings.TrimRight(v.BaseURL, "/"), url.PathEscape(v.Version), strconv.FormatInt(userID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Authorization", v.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := v.HTTP.Do(req)
	if err != nil {
		return Reply{}, err
	}
	defer res.Body.Close()
	if err := checkStatus(ProviderVoiceflow, res); err != nil {
		return Reply{}, err
	}

	var traces []vfTrace
	if err := json.NewDecoder(res.Body).Decode(&traces); err != nil {
		return Reply{}, fmt.Errorf("voiceflow: decode traces: %w", err)
	}

	var out Reply
	for _, t := range traces {
		switch t.Type {
		case "text", "speak":
			if m := strings.TrimSpace(t.Payload.Message); m != "" {
				out.Messages = append(out.Messages, m)
			}
		case "end":
			out.ReadyToPublish = true
		}
	}
	return out, nil
}
