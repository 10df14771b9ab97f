package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/pkg/constants"
	"github.com/chatmesh/chatsync.go/pkg/logger"
	"github.com/chatmesh/chatsync.go/pkg/models"
)

// HTTPTransport talks to the message host over its JSON HTTP API.
type HTTPTransport struct {
	// BaseURL is the host's API root, without a trailing slash.
	BaseURL string

	// Token is the bearer token for the authenticated identity.
	Token string

	// Client is the underlying HTTP client. Defaults to http.DefaultClient.
	Client *http.Client

	logger logger.Logger
}

var _ MessageTransport = (*HTTPTransport)(nil)

func NewHTTP(baseURL, token string, log logger.Logger) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: baseURL,
		Token:   token,
		Client:  http.DefaultClient,
		logger:  log,
	}
}

// wireRecord is the host's JSON shape of a message. Content arrives in one of
// three wire forms and is decoded into the tagged union here, exactly once.
type wireRecord struct {
	LocalID         uuid.UUID           `json:"localId"`
	ServerID        uuid.UUID           `json:"serverId,omitempty"`
	GlobalTransitID uuid.UUID           `json:"globalTransitId,omitempty"`
	GroupID         uuid.UUID           `json:"groupId"`
	CreatedAt       int64               `json:"createdAt"`
	UpdatedAt       int64               `json:"updatedAt"`
	Content         json.RawMessage     `json:"content"`
	IsCollaborative bool                `json:"isCollaborative,omitempty"`
	Collaborators   []string            `json:"collaborators,omitempty"`
	DeliveryStatus  int                 `json:"deliveryStatus,omitempty"`
	Reactions       map[string]models.Reaction `json:"reactions,omitempty"`
	Payloads        []models.PayloadRef `json:"payloads,omitempty"`
	VersionTag      uuid.UUID           `json:"versionTag,omitempty"`
	Pinned          bool                `json:"pinned,omitempty"`
}

func (w *wireRecord) toRecord() *models.MessageRecord {
	content := DecodeContent(w.Content)
	content.IsCollaborative = w.IsCollaborative
	content.Collaborators = w.Collaborators

	status := models.DeliveryStatus(w.DeliveryStatus)
	if status == models.StatusUnknown {
		status = models.StatusSent
	}

	return &models.MessageRecord{
		LocalID:         w.LocalID,
		ServerID:        w.ServerID,
		GlobalTransitID: w.GlobalTransitID,
		GroupID:         w.GroupID,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
		Content:         content,
		State:           models.StateConfirmed,
		DeliveryStatus:  status,
		ReactionSummary: w.Reactions,
		PayloadRefs:     w.Payloads,
		VersionTag:      w.VersionTag,
		Pinned:          w.Pinned,
	}
}

// DecodeContent turns the wire content into the tagged union.
//
// The host has produced three shapes over time: a bare JSON string, a
// rich-text node array, and legacy envelope objects. Anything unrecognized is
// kept as an opaque legacy blob rather than dropped.
func DecodeContent(raw json.RawMessage) models.Content {
	if len(raw) == 0 {
		return models.Content{}
	}

	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return models.LegacyEmbedded(raw)
		}
		return models.PlainText(text)
	case '[':
		var nodes []models.RichTextNode
		if err := json.Unmarshal(raw, &nodes); err != nil {
			return models.LegacyEmbedded(raw)
		}
		return models.RichText(nodes...)
	default:
		return models.LegacyEmbedded(raw)
	}
}

// EncodeContent is the inverse of DecodeContent for uploads.
func EncodeContent(content models.Content) (json.RawMessage, error) {
	switch content.Kind {
	case models.ContentPlainText:
		return json.Marshal(content.Text)
	case models.ContentRichText:
		return json.Marshal(content.Nodes)
	case models.ContentLegacyEmbedded:
		return json.RawMessage(content.Legacy), nil
	default:
		return json.Marshal("")
	}
}

func (t *HTTPTransport) FetchPage(ctx context.Context, scope models.ScopeKey, cursor []byte) (*PageResult, error) {
	req := struct {
		Cursor []byte `json:"cursor,omitempty"`
	}{Cursor: cursor}

	var resp struct {
		Records    []wireRecord `json:"records"`
		NextCursor []byte       `json:"nextCursor,omitempty"`
	}

	if err := t.do(ctx, scope, "messages/page", req, &resp); err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	out := &PageResult{NextCursor: resp.NextCursor}
	for i := range resp.Records {
		out.Records = append(out.Records, resp.Records[i].toRecord())
	}
	return out, nil
}

func (t *HTTPTransport) FetchByUniqueID(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) (*models.MessageRecord, error) {
	var resp struct {
		Record *wireRecord `json:"record"`
	}

	if err := t.do(ctx, scope, "messages/get", ref, &resp); err != nil {
		return nil, fmt.Errorf("fetch by unique id: %w", err)
	}
	if resp.Record == nil {
		return nil, nil
	}
	return resp.Record.toRecord(), nil
}

func (t *HTTPTransport) Upload(ctx context.Context, scope models.ScopeKey, record *models.MessageRecord) (*UploadResult, error) {
	content, err := EncodeContent(record.Content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	req := wireRecord{
		LocalID:         record.LocalID,
		GroupID:         record.GroupID,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
		Content:         content,
		IsCollaborative: record.Content.IsCollaborative,
		Collaborators:   record.Content.Collaborators,
		Payloads:        record.PayloadRefs,
		VersionTag:      record.VersionTag,
	}

	var resp UploadResult
	if err := t.do(ctx, scope, "messages/upload", req, &resp); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return &resp, nil
}

func (t *HTTPTransport) Delete(ctx context.Context, scope models.ScopeKey, ref models.RecordRef) error {
	if err := t.do(ctx, scope, "messages/delete", ref, nil); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (t *HTTPTransport) QueryCreatedSince(ctx context.Context, scope models.ScopeKey, since int64) ([]*models.MessageRecord, error) {
	return t.query(ctx, scope, "messages/created-since", since)
}

func (t *HTTPTransport) QueryModifiedSince(ctx context.Context, scope models.ScopeKey, since int64) ([]*models.MessageRecord, error) {
	return t.query(ctx, scope, "messages/modified-since", since)
}

func (t *HTTPTransport) query(ctx context.Context, scope models.ScopeKey, endpoint string, since int64) ([]*models.MessageRecord, error) {
	req := struct {
		Since int64 `json:"since"`
	}{Since: since}

	var resp struct {
		Records []wireRecord `json:"records"`
	}

	if err := t.do(ctx, scope, endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}

	out := make([]*models.MessageRecord, 0, len(resp.Records))
	for i := range resp.Records {
		out = append(out, resp.Records[i].toRecord())
	}
	return out, nil
}

func (t *HTTPTransport) do(ctx context.Context, scope models.ScopeKey, endpoint string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/communities/%s/streams/%s/%s",
		t.BaseURL, scope.CommunityID, scope.StreamID, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		// The host rejects writes carrying a stale version tag.
		return fmt.Errorf("%s: %w", endpoint, constants.ErrConflict)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if t.logger != nil {
			t.logger.Error("transport request failed",
				"endpoint", endpoint,
				"status", resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}
