package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"chatty/internal/domain"
	"chatty/internal/wire"
)

// APIError is a non-2xx response from the chat server, carrying the
// user-facing message from the response envelope.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api error (status %d)", e.Status)
	}
	return fmt.Sprintf("chat api error (status %d): %s", e.Status, e.Message)
}

// envelope is the standard response wrapper used by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type roomDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    bool   `json:"isPublic"`
	MemberCount int    `json:"memberCount"`
	SecretCode  string `json:"secretCode"`
	CreatedBy   string `json:"createdBy"`
}

type userDTO struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	ProfilePicture string `json:"profilePicture"`
}

// Client talks to the REST collaborators: room and user management, history
// pages, unread accounting. Realtime traffic does not pass through here.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default().With("component", "restapi")
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{http: http, logger: logger}
}

// SetToken swaps the bearer credential, for reconnect-with-new-token flows.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

func (c *Client) Rooms(ctx context.Context) ([]domain.Room, error) {
	return c.roomList(ctx, "/chat/rooms")
}

func (c *Client) PublicRooms(ctx context.Context) ([]domain.Room, error) {
	return c.roomList(ctx, "/chat/rooms/public")
}

func (c *Client) roomList(ctx context.Context, path string) ([]domain.Room, error) {
	var dtos []roomDTO
	if err := c.get(ctx, path, nil, &dtos); err != nil {
		return nil, err
	}
	return roomsFromDTOs(dtos), nil
}

func (c *Client) RoomByID(ctx context.Context, roomID string) (domain.Room, error) {
	var dto roomDTO
	if err := c.get(ctx, "/chat/rooms/"+roomID, nil, &dto); err != nil {
		return domain.Room{}, err
	}
	return roomFromDTO(dto), nil
}

func (c *Client) CreateRoom(ctx context.Context, name, description string, isPublic bool) (domain.Room, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"isPublic":    isPublic,
	}
	var dto roomDTO
	if err := c.post(ctx, "/chat/rooms", body, &dto); err != nil {
		return domain.Room{}, err
	}
	return roomFromDTO(dto), nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.post(ctx, "/chat/rooms/"+roomID+"/join", nil, nil)
}

func (c *Client) JoinRoomByCode(ctx context.Context, secretCode string) (domain.Room, error) {
	var dto roomDTO
	if err := c.post(ctx, "/chat/rooms/join-by-code", map[string]any{"secretCode": secretCode}, &dto); err != nil {
		return domain.Room{}, err
	}
	return roomFromDTO(dto), nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.post(ctx, "/chat/rooms/"+roomID+"/leave", nil, nil)
}

func (c *Client) RoomMessages(ctx context.Context, roomID string, page, size int) ([]domain.Message, error) {
	return c.messageList(ctx, "/chat/rooms/"+roomID+"/messages", page, size)
}

func (c *Client) PrivateMessages(ctx context.Context, userID string, page, size int) ([]domain.Message, error) {
	return c.messageList(ctx, "/chat/private/"+userID+"/messages", page, size)
}

func (c *Client) messageList(ctx context.Context, path string, page, size int) ([]domain.Message, error) {
	params := map[string]string{
		"page": strconv.Itoa(page),
		"size": strconv.Itoa(size),
	}
	var dtos []wire.Event
	if err := c.get(ctx, path, params, &dtos); err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(dtos))
	for _, dto := range dtos {
		msgs = append(msgs, dto.Message())
	}
	return msgs, nil
}

func (c *Client) MarkRead(ctx context.Context, userID string) error {
	return c.post(ctx, "/chat/private/"+userID+"/read", nil, nil)
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var count int
	if err := c.get(ctx, "/chat/unread/count", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Client) AllUsers(ctx context.Context) ([]domain.User, error) {
	return c.userList(ctx, "/users")
}

func (c *Client) OnlineUsers(ctx context.Context) ([]domain.User, error) {
	return c.userList(ctx, "/users/online")
}

func (c *Client) userList(ctx context.Context, path string) ([]domain.User, error) {
	var dtos []userDTO
	if err := c.get(ctx, path, nil, &dtos); err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(dtos))
	for _, dto := range dtos {
		users = append(users, domain.User{
			ID:             dto.ID,
			Username:       dto.Username,
			DisplayName:    dto.DisplayName,
			ProfilePicture: dto.ProfilePicture,
		})
	}
	return users, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	return c.handle(resp, err, path, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Post(path)
	return c.handle(resp, err, path, out)
}

func (c *Client) handle(resp *resty.Response, err error, path string, out any) error {
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}

	var env envelope
	if decodeErr := json.Unmarshal(resp.Body(), &env); decodeErr != nil && resp.IsError() {
		// Some proxies answer errors with non-JSON bodies.
		return &APIError{Status: resp.StatusCode()}
	} else if decodeErr != nil {
		return fmt.Errorf("decode response for %s: %w", path, decodeErr)
	}

	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode payload for %s: %w", path, err)
	}
	return nil
}

func roomsFromDTOs(dtos []roomDTO) []domain.Room {
	rooms := make([]domain.Room, 0, len(dtos))
	for _, dto := range dtos {
		rooms = append(rooms, roomFromDTO(dto))
	}
	return rooms
}

func roomFromDTO(dto roomDTO) domain.Room {
	return domain.Room{
		ID:          dto.ID,
		Name:        dto.Name,
		Description: dto.Description,
		IsPublic:    dto.IsPublic,
		MemberCount: dto.MemberCount,
		SecretCode:  dto.SecretCode,
		CreatedBy:   dto.CreatedBy,
	}
}
