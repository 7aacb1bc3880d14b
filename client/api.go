package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"collab-messenger/messenger"
)

// Conversation is the client's view of one conversation.
type Conversation struct {
	ID             uint   `json:"id"`
	Kind           string `json:"kind"`
	Name           string `json:"name"`
	ParticipantIDs []uint `json:"participantIds"`
	LastActivityAt int64  `json:"lastActivityAt"`
	UnreadCount    int    `json:"unreadCount"`
	Preview        string `json:"-"`
}

// PageSize is the largest history page the server returns. A page of exactly
// PageSize messages means more may follow.
const PageSize = 200

// API is the request/response side of the server the session needs.
type API interface {
	Conversations(ctx context.Context) ([]Conversation, error)
	// Messages returns up to PageSize messages with id > afterID in
	// ascending order.
	Messages(ctx context.Context, conversationID, afterID uint) ([]messenger.MessagePayload, error)
}

// HTTPAPI talks to the /v1 REST surface.
type HTTPAPI struct {
	BaseURL string // e.g. http://host:8080
	Token   func() string
	Client  *http.Client
}

type envelope struct {
	Status  string          `json:"status"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *HTTPAPI) Conversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	err := a.get(ctx, "/v1/messenger/conversations", nil, &out)
	return out, err
}

func (a *HTTPAPI) Messages(ctx context.Context, conversationID, afterID uint) ([]messenger.MessagePayload, error) {
	q := url.Values{}
	if afterID > 0 {
		q.Set("after_id", strconv.FormatUint(uint64(afterID), 10))
	}
	q.Set("limit", strconv.Itoa(PageSize))

	var out []messenger.MessagePayload
	path := fmt.Sprintf("/v1/messenger/conversations/%d/messages", conversationID)
	err := a.get(ctx, path, q, &out)
	return out, err
}

func (a *HTTPAPI) get(ctx context.Context, path string, q url.Values, v any) error {
	u := a.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token())

	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: status %d: %w", path, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		msg := http.StatusText(resp.StatusCode)
		if env.Message != nil {
			msg = *env.Message
		}
		return fmt.Errorf("%s: %d %s", path, resp.StatusCode, msg)
	}
	return json.Unmarshal(env.Data, v)
}
