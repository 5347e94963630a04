package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MediSynth-io/messagely/internal/gate"
	"github.com/MediSynth-io/messagely/internal/models"
	"github.com/MediSynth-io/messagely/internal/policy"
	"github.com/go-chi/chi/v5"
)

type createMessageRequest struct {
	ToUsername string `json:"to_username" validate:"required,max=255"`
	Body       string `json:"body" validate:"required"`
}

// messageView is a message as returned to its parties. Listings embed only the
// counterpart; the detail view embeds both.
type messageView struct {
	ID       string          `json:"id"`
	Body     string          `json:"body"`
	SentAt   time.Time       `json:"sent_at"`
	ReadAt   *time.Time      `json:"read_at"`
	FromUser *models.Contact `json:"from_user,omitempty"`
	ToUser   *models.Contact `json:"to_user,omitempty"`
}

type createdMessage struct {
	ID           string    `json:"id"`
	FromUsername string    `json:"from_username"`
	ToUsername   string    `json:"to_username"`
	Body         string    `json:"body"`
	SentAt       time.Time `json:"sent_at"`
}

type readReceipt struct {
	ID     string     `json:"id"`
	ReadAt *time.Time `json:"read_at"`
}

func toMessageView(m *models.Message) messageView {
	return messageView{
		ID:       m.ID,
		Body:     m.Body,
		SentAt:   m.SentAt,
		ReadAt:   m.ReadAt,
		FromUser: m.FromUser,
		ToUser:   m.ToUser,
	}
}

func toMessageViews(msgs []models.Message) []messageView {
	views := make([]messageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, toMessageView(&msgs[i]))
	}
	return views
}

// loadUser returns a loader for the user named in the path, keeping the
// fetched record in *dst.
func (api *Api) loadUser(username string, dst **models.User) gate.Loader {
	return func(ctx context.Context) (policy.Resource, error) {
		user, err := api.store.FindUser(ctx, username)
		if err != nil {
			return policy.Resource{}, err
		}
		if dst != nil {
			*dst = user
		}
		return policy.UserResource(user.Username), nil
	}
}

func (api *Api) loadMessage(id string, dst **models.Message) gate.Loader {
	return func(ctx context.Context) (policy.Resource, error) {
		msg, err := api.store.FindMessage(ctx, id)
		if err != nil {
			return policy.Resource{}, err
		}
		*dst = msg
		return policy.MessageResource(msg.FromUsername, msg.ToUsername), nil
	}
}

// ListUsersHandler handles GET /users
func (api *Api) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := api.gate.Admit(ctx, gate.ActorFrom(ctx), policy.OpListUsers, nil); err != nil {
		api.writeError(w, r, err)
		return
	}

	users, err := api.store.ListUsers(ctx)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// GetUserHandler handles GET /users/{username}
func (api *Api) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var user *models.User
	load := api.loadUser(chi.URLParam(r, "username"), &user)
	if err := api.gate.Admit(ctx, gate.ActorFrom(ctx), policy.OpViewProfile, load); err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// ListSentHandler handles GET /users/{username}/from
func (api *Api) ListSentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := chi.URLParam(r, "username")
	if err := api.gate.Admit(ctx, gate.ActorFrom(ctx), policy.OpListSent, api.loadUser(username, nil)); err != nil {
		api.writeError(w, r, err)
		return
	}

	msgs, err := api.store.MessagesFrom(ctx, username)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageViews(msgs)})
}

// ListReceivedHandler handles GET /users/{username}/to
func (api *Api) ListReceivedHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := chi.URLParam(r, "username")
	if err := api.gate.Admit(ctx, gate.ActorFrom(ctx), policy.OpListReceived, api.loadUser(username, nil)); err != nil {
		api.writeError(w, r, err)
		return
	}

	msgs, err := api.store.MessagesTo(ctx, username)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageViews(msgs)})
}

// GetMessageHandler handles GET /messages/{id}
func (api *Api) GetMessageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var msg *models.Message
	load := api.loadMessage(chi.URLParam(r, "id"), &msg)
	if err := api.gate.Admit(ctx, gate.ActorFrom(ctx), policy.OpViewMessage, load); err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": toMessageView(msg)})
}

// CreateMessageHandler handles POST /messages. The sender is always the
// authenticated actor. An unknown recipient is a policy denial rather than a
// 404.
func (api *Api) CreateMessageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createMessageRequest
	if err := api.decode(w, r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}

	actor := gate.ActorFrom(ctx)
	load := func(ctx context.Context) (policy.Resource, error) {
		_, err := api.store.FindUser(ctx, req.ToUsername)
		if errors.Is(err, models.ErrNotFound) {
			return policy.DraftResource(actor.Username, req.ToUsername, false), nil
		}
		if err != nil {
			return policy.Resource{}, err
		}
		return policy.DraftResource(actor.Username, req.ToUsername, true), nil
	}
	if err := api.gate.Admit(ctx, actor, policy.OpCreateMessage, load); err != nil {
		api.writeError(w, r, err)
		return
	}

	msg, err := api.store.CreateMessage(ctx, actor.Username, req.ToUsername, req.Body)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": createdMessage{
		ID:           msg.ID,
		FromUsername: msg.FromUsername,
		ToUsername:   msg.ToUsername,
		Body:         msg.Body,
		SentAt:       msg.SentAt,
	}})
}

// MarkReadHandler handles POST /messages/{id}/read
func (api *Api) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var msg *models.Message
	if err := api.gate.Admit(ctx, gate.ActorFrom(ctx), policy.OpMarkRead, api.loadMessage(id, &msg)); err != nil {
		api.writeError(w, r, err)
		return
	}

	// Already read: answer with the original read_at without writing.
	if !msg.IsRead() {
		var err error
		msg, err = api.store.MarkMessageRead(ctx, msg.ID)
		if err != nil {
			api.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": readReceipt{ID: msg.ID, ReadAt: msg.ReadAt}})
}
