// Package directory keeps the current user's conversation list in sync with
// the REST backend.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brightledger/messaging-core/internal/model"
)

// Fetcher is the REST contract the directory consumes. The backend behind it
// is an external collaborator; APIClient is the HTTP implementation and tests
// substitute their own.
type Fetcher interface {
	FetchConversations(ctx context.Context) ([]model.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	MarkRead(ctx context.Context, req model.MarkReadRequest) error
	AvailableUsers(ctx context.Context) ([]model.Participant, error)
	UnreadCount(ctx context.Context) (int, error)
}

// APIClient calls the messaging REST endpoints with bearer-token auth.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient creates a REST client rooted at baseURL.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchConversations lists all conversations for the current user.
func (c *APIClient) FetchConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp model.ListConversationsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// FetchMessages returns one conversation's history, ordered by the backend.
func (c *APIClient) FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var resp model.ListMessagesResponse
	path := "/api/v1/conversations/" + conversationID + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkRead marks messages read over REST.
func (c *APIClient) MarkRead(ctx context.Context, req model.MarkReadRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/messages/read", req, nil)
}

// AvailableUsers lists participants the current user may message.
func (c *APIClient) AvailableUsers(ctx context.Context) ([]model.Participant, error) {
	var resp model.AvailableUsersResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/users/available", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// UnreadCount returns the current user's global unread count.
func (c *APIClient) UnreadCount(ctx context.Context) (int, error) {
	var resp model.UnreadCountResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/messages/unread", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
