package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kalambet/chatmirror/internal/chat"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 8 << 20 // 8MB
)

// Client talks to the remote chat listing API. It never retries; callers
// re-run sync later.
type Client struct {
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for baseURL. tokens supplies the opaque identity
// token; a nil source or an empty token fails every call with
// chat.ErrMissingIdentity.
func NewClient(baseURL string, tokens oauth2.TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// StaticIdentity wraps a fixed identity token.
func StaticIdentity(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// Inbox fetches one page of the primary inbox.
func (c *Client) Inbox(ctx context.Context, page int) (chat.Page, error) {
	return c.list(ctx, "/chats/inbox", page)
}

// Folder fetches one page of a user folder.
func (c *Client) Folder(ctx context.Context, folderID string, page int) (chat.Page, error) {
	return c.list(ctx, "/chats/folders/"+url.PathEscape(folderID), page)
}

// Archive fetches one page of archived chats.
func (c *Client) Archive(ctx context.Context, page int) (chat.Page, error) {
	return c.list(ctx, "/chats/archives", page)
}

// ListFolders returns the user's folders in the order the service lists them.
func (c *Client) ListFolders(ctx context.Context) ([]chat.Folder, error) {
	var body folderResponse
	if err := c.getJSON(ctx, "/folders", nil, &body); err != nil {
		return nil, err
	}
	if body.Signal != "" {
		return nil, &chat.DomainSignalError{Signal: body.Signal, Message: body.Message}
	}

	folders := make([]chat.Folder, 0, len(body.Folders))
	for _, f := range body.Folders {
		id := fmt.Sprint(f.ID)
		if f.ID == nil || id == "" {
			continue
		}
		folders = append(folders, chat.Folder{ID: id, Name: f.Name})
	}
	return folders, nil
}

func (c *Client) list(ctx context.Context, path string, page int) (chat.Page, error) {
	if page < 0 {
		return chat.Page{}, fmt.Errorf("negative page index %d", page)
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))

	var body listResponse
	if err := c.getJSON(ctx, path, q, &body); err != nil {
		return chat.Page{}, err
	}
	if body.Signal != "" {
		return chat.Page{}, &chat.DomainSignalError{Signal: body.Signal, Message: body.Message}
	}
	return decodePage(body, c.logger), nil
}

func (c *Client) identity() (*oauth2.Token, error) {
	if c.tokens == nil {
		return nil, chat.ErrMissingIdentity
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrMissingIdentity, err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, chat.ErrMissingIdentity
	}
	return tok, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	tok, err := c.identity()
	if err != nil {
		return err
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return &chat.RemoteRequestError{Status: resp.StatusCode, Body: string(respBody)}
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("decoding %s: empty response body", path)
		}
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
