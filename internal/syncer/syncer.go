// Package syncer pushes unsynced conversations and messages to the
// remote REST API in the background, and pulls the recent remote set on
// sign-in. Failures are logged and retried on the next tick.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/buildwithtrace/trace-agent/internal/auth"
	"github.com/buildwithtrace/trace-agent/internal/logging"
	"github.com/buildwithtrace/trace-agent/internal/store"
)

const (
	// DefaultInterval is the background push cadence.
	DefaultInterval = 30 * time.Second

	// DefaultFetchLimit bounds how many remote conversations a pull takes.
	DefaultFetchLimit = 50

	requestTimeout = 15 * time.Second

	// pushConcurrency bounds parallel message posts.
	pushConcurrency = 4
)

// preferHeader asks the remote to merge rows that already exist.
const preferHeader = "resolution=merge-duplicates"

// Store is the conversation persistence surface the worker needs.
type Store interface {
	GetUnsyncedConversations() ([]store.Conversation, error)
	GetUnsyncedMessages() ([]store.Message, error)
	MarkConversationSynced(id string) error
	MarkMessageSynced(id string) error
	UpsertRemoteConversation(c store.Conversation) error
}

// Session exposes the sign-in state the worker gates on.
type Session interface {
	State() auth.State
	AccessToken() string
}

// Worker owns the periodic sync loop.
type Worker struct {
	remoteURL string
	store     Store
	session   Session
	client    *http.Client
	interval  time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// New builds a sync worker against the given remote base URL.
func New(remoteURL string, st Store, session Session) *Worker {
	return &Worker{
		remoteURL: strings.TrimRight(remoteURL, "/"),
		store:     st,
		session:   session,
		client:    &http.Client{Timeout: requestTimeout},
		interval:  DefaultInterval,
	}
}

// Start launches the background loop. Calling Start on a running worker
// is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.stop = make(chan struct{})
	w.stopped = make(chan struct{})
	go w.run(w.stop, w.stopped)
	logging.Sync("worker started, interval %s", w.interval)
}

// Stop halts the loop and waits for it to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	stop, stopped := w.stop, w.stopped
	w.stop, w.stopped = nil, nil
	w.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	logging.Sync("worker stopped")
}

func (w *Worker) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if w.session.State() != auth.SignedIn {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			if err := w.SyncNow(ctx); err != nil {
				logging.SyncWarn("sync pass failed: %v", err)
			}
			cancel()
		}
	}
}

// SyncNow runs one push pass: conversations first so message foreign
// keys resolve remotely, then messages.
func (w *Worker) SyncNow(ctx context.Context) error {
	if w.session.State() != auth.SignedIn {
		return fmt.Errorf("not signed in")
	}

	if err := w.pushConversations(ctx); err != nil {
		return err
	}
	return w.pushMessages(ctx)
}

func (w *Worker) pushConversations(ctx context.Context) error {
	convs, err := w.store.GetUnsyncedConversations()
	if err != nil {
		return fmt.Errorf("reading unsynced conversations: %w", err)
	}

	pushed := 0
	for _, conv := range convs {
		// Pre-sign-in conversations wait until a user claims them.
		if conv.UserID == "" {
			continue
		}
		payload := map[string]any{
			"id":                conv.ID,
			"user_id":           conv.UserID,
			"project_file_path": conv.ProjectFilePath,
			"session_id":        conv.SessionID,
			"title":             conv.Title,
			"summary":           conv.Summary,
			"created_at":        conv.CreatedAt,
			"updated_at":        conv.UpdatedAt,
		}
		if err := w.post(ctx, "/conversations", payload); err != nil {
			logging.SyncWarn("conversation %s not pushed: %v", conv.ID, err)
			continue
		}
		if err := w.store.MarkConversationSynced(conv.ID); err != nil {
			return err
		}
		pushed++
	}
	if pushed > 0 {
		logging.Sync("pushed %d conversations", pushed)
	}
	return nil
}

func (w *Worker) pushMessages(ctx context.Context) error {
	msgs, err := w.store.GetUnsyncedMessages()
	if err != nil {
		return fmt.Errorf("reading unsynced messages: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pushConcurrency)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			payload := map[string]any{
				"id":              msg.ID,
				"conversation_id": msg.ConversationID,
				"role":            msg.Role,
				"content":         msg.Content,
				"created_at":      msg.CreatedAt,
				"metadata":        metadataJSON(msg.Metadata),
			}
			if err := w.post(ctx, "/messages", payload); err != nil {
				logging.SyncWarn("message %s not pushed: %v", msg.ID, err)
				return nil
			}
			return w.store.MarkMessageSynced(msg.ID)
		})
	}
	return g.Wait()
}

// metadataJSON embeds the stored metadata string as a JSON value,
// falling back to an empty object when it does not parse.
func metadataJSON(metadata string) json.RawMessage {
	if json.Valid([]byte(metadata)) && strings.TrimSpace(metadata) != "" {
		return json.RawMessage(metadata)
	}
	return json.RawMessage("{}")
}

// FetchFromRemote pulls the most recently updated remote conversations
// and folds them into the local store. Called once after sign-in.
func (w *Worker) FetchFromRemote(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	url := fmt.Sprintf("%s/conversations?order=updated_at.desc&limit=%d", w.remoteURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.session.AccessToken())

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching conversations: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching conversations: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	var remote []struct {
		ID              string `json:"id"`
		UserID          string `json:"user_id"`
		ProjectFilePath string `json:"project_file_path"`
		SessionID       string `json:"session_id"`
		Title           string `json:"title"`
		Summary         string `json:"summary"`
		CreatedAt       string `json:"created_at"`
		UpdatedAt       string `json:"updated_at"`
	}
	if err := json.Unmarshal(body, &remote); err != nil {
		return fmt.Errorf("decoding remote conversations: %w", err)
	}

	for _, rc := range remote {
		err := w.store.UpsertRemoteConversation(store.Conversation{
			ID:              rc.ID,
			UserID:          rc.UserID,
			ProjectFilePath: rc.ProjectFilePath,
			SessionID:       rc.SessionID,
			Title:           rc.Title,
			Summary:         rc.Summary,
			CreatedAt:       rc.CreatedAt,
			UpdatedAt:       rc.UpdatedAt,
		})
		if err != nil {
			logging.SyncWarn("remote conversation %s not applied: %v", rc.ID, err)
		}
	}
	logging.Sync("fetched %d remote conversations", len(remote))
	return nil
}

// post sends one JSON document, treating 200 and 201 as success.
func (w *Worker) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.remoteURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", preferHeader)
	req.Header.Set("Authorization", "Bearer "+w.session.AccessToken())

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
