package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/relaychat/relay-api/internal/dto"
	"github.com/relaychat/relay-api/internal/middleware"
	"github.com/relaychat/relay-api/internal/service"
	"github.com/relaychat/relay-api/internal/utils"
)

type stubMessageService struct {
	sendResponse dto.MessageResponse
	sendErr      error
	history      []dto.MessageResponse
	historyErr   error
	recallErr    error
	deleteErr    error

	lastSender string
	lastSend   dto.MessageSendRequest
	lastQuery  dto.MessageHistoryQuery
}

func (s *stubMessageService) Send(_ context.Context, senderID string, payload dto.MessageSendRequest) (dto.MessageResponse, error) {
	s.lastSender = senderID
	s.lastSend = payload
	return s.sendResponse, s.sendErr
}

func (s *stubMessageService) History(_ context.Context, _ string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	s.lastQuery = query
	return s.history, s.historyErr
}

func (s *stubMessageService) Recall(context.Context, string, string) (dto.MessageResponse, error) {
	return dto.MessageResponse{Recalled: true}, s.recallErr
}

func (s *stubMessageService) DeleteForViewer(context.Context, string, string) error {
	return s.deleteErr
}

type stubReactionService struct {
	state dto.ReactionUpdateEvent
	err   error
}

func (s *stubReactionService) Set(context.Context, string, dto.ReactionRequest) (dto.ReactionUpdateEvent, error) {
	return s.state, s.err
}

func (s *stubReactionService) Remove(context.Context, string, string) (dto.ReactionUpdateEvent, error) {
	return s.state, s.err
}

func newMessageTestApp(messages service.MessageService, reactions service.ReactionService, userID string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/messages", func(c *fiber.Ctx) error {
		if userID != "" {
			c.Locals("user_id", userID)
		}
		return c.Next()
	})
	NewMessageHandler(messages, reactions, zerolog.Nop()).Register(group, nil)
	return app
}

func decodeResponse(t *testing.T, resp *http.Response) utils.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload utils.APIResponse
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload
}

func TestMessageSendEndpoint(t *testing.T) {
	stub := &stubMessageService{sendResponse: dto.MessageResponse{ID: "m1", Seq: 1, ConversationID: "c1"}}
	app := newMessageTestApp(stub, &stubReactionService{}, "alice")

	payload, _ := json.Marshal(dto.MessageSendRequest{ConversationID: "c1", Body: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, decodeResponse(t, resp).Success)
	require.Equal(t, "alice", stub.lastSender)
	require.Equal(t, "c1", stub.lastSend.ConversationID)
}

func TestMessageSendRequiresAuthentication(t *testing.T) {
	app := newMessageTestApp(&stubMessageService{}, &stubReactionService{}, "")

	payload, _ := json.Marshal(dto.MessageSendRequest{ConversationID: "c1", Body: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMessageSendMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not a member", service.ErrNotAMember, http.StatusForbidden},
		{"empty body", service.ErrEmptyMessage, http.StatusBadRequest},
		{"missing conversation", gorm.ErrRecordNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newMessageTestApp(&stubMessageService{sendErr: tc.err}, &stubReactionService{}, "alice")

			payload, _ := json.Marshal(dto.MessageSendRequest{ConversationID: "c1", Body: "hi"})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestMessageHistoryEndpointParsesCursors(t *testing.T) {
	stub := &stubMessageService{history: []dto.MessageResponse{{ID: "m1", Seq: 9}}}
	app := newMessageTestApp(stub, &stubReactionService{}, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/c1?beforeSeq=10&limit=5", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, "c1", stub.lastQuery.ConversationID)
	require.NotNil(t, stub.lastQuery.BeforeSeq)
	require.Equal(t, int64(10), *stub.lastQuery.BeforeSeq)
	require.Equal(t, 5, stub.lastQuery.Limit)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/messages/c1?beforeSeq=abc", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageActionEndpoint(t *testing.T) {
	app := newMessageTestApp(&stubMessageService{}, &stubReactionService{}, "alice")

	payload, _ := json.Marshal(dto.MessageActionRequest{MessageID: "m1", Action: dto.MessageActionRecall})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/messages/c1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, _ = json.Marshal(dto.MessageActionRequest{MessageID: "m1", Action: "shred"})
	req = httptest.NewRequest(http.MethodPatch, "/api/v1/messages/c1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageRecallNotSenderIsForbidden(t *testing.T) {
	app := newMessageTestApp(&stubMessageService{recallErr: service.ErrRecallNotSender}, &stubReactionService{}, "bob")

	payload, _ := json.Marshal(dto.MessageActionRequest{MessageID: "m1", Action: dto.MessageActionRecall})
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/messages/c1", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendRateLimitLeavesReadsUnthrottled(t *testing.T) {
	stub := &stubMessageService{sendResponse: dto.MessageResponse{ID: "m1", Seq: 1, ConversationID: "c1"}}
	app := fiber.New()
	group := app.Group("/api/v1/messages", func(c *fiber.Ctx) error {
		c.Locals("user_id", "alice")
		return c.Next()
	})
	sendLimit := middleware.RateLimit("msg-send", 1, time.Minute)
	NewMessageHandler(stub, &stubReactionService{}, zerolog.Nop()).Register(group, sendLimit)

	send := func() *http.Response {
		payload, _ := json.Marshal(dto.MessageSendRequest{ConversationID: "c1", Body: "hi"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := send()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = send()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// History reads never draw on the send budget, even while it is spent.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/c1", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestReactionEndpoints(t *testing.T) {
	stub := &stubReactionService{state: dto.ReactionUpdateEvent{MessageID: "m1"}}
	app := newMessageTestApp(&stubMessageService{}, stub, "alice")

	payload, _ := json.Marshal(dto.ReactionRequest{MessageID: "m1", Emoji: "👍"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/reaction", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/messages/reaction?message_id=m1", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/messages/reaction", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
