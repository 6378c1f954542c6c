// Package api implements the daemon's gRPC control service and its client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wabridge/internal/bus"
	"github.com/matheus3301/wabridge/internal/dispatch"
	"github.com/matheus3301/wabridge/internal/status"
	"github.com/matheus3301/wabridge/internal/store"
	"github.com/matheus3301/wabridge/internal/wa"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SessionController is the part of the session manager the API drives.
type SessionController interface {
	EnsureConnected(ctx context.Context) (status.Status, error)
	Status() status.Status
	Logout(ctx context.Context) error
}

// MessageSender sends and records outbound messages.
type MessageSender interface {
	SendAndRecord(ctx context.Context, chatID, body string) (*store.Message, error)
}

// Service implements BridgeServer.
type Service struct {
	account   string
	startedAt time.Time
	session   SessionController
	sender    MessageSender
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the control service.
func NewService(account string, session SessionController, sender MessageSender, db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		account:   account,
		startedAt: time.Now(),
		session:   session,
		sender:    sender,
		db:        db,
		bus:       b,
		logger:    logger,
	}
}

func (s *Service) Init(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	st, err := s.session.EnsureConnected(ctx)
	if err != nil {
		s.logger.Warn("init failed", zap.Error(err))
		if st.Error == "" {
			st.Error = err.Error()
		}
	}
	return s.statusResponse(st), nil
}

func (s *Service) Status(_ context.Context, _ *Empty) (*StatusResponse, error) {
	return s.statusResponse(s.session.Status()), nil
}

func (s *Service) Logout(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	err := s.session.Logout(ctx)
	st := s.session.Status()
	if err != nil {
		s.logger.Error("logout failed", zap.Error(err))
		st.Error = err.Error()
	}
	return s.statusResponse(st), nil
}

func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	msg, err := s.sender.SendAndRecord(ctx, req.ChatID, req.Body)
	if err != nil {
		return nil, sendError(err)
	}
	return &SendResponse{Message: msg}, nil
}

func (s *Service) ListChats(_ context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	limit := pageLimit(req.Limit)
	chats, err := s.db.ListChats(limit, max(req.Offset, 0))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	return &ListChatsResponse{Chats: chats, HasMore: len(chats) == limit}, nil
}

func (s *Service) ListMessages(_ context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	chat, err := wa.NormalizeChatID(req.ChatID)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	limit := pageLimit(req.Limit)
	msgs, err := s.db.ListMessages(chat, req.BeforeTs, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return &ListMessagesResponse{Messages: msgs, HasMore: len(msgs) == limit}, nil
}

func (s *Service) SearchMessages(_ context.Context, req *SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	chat := req.ChatID
	if chat != "" {
		var err error
		if chat, err = wa.NormalizeChatID(chat); err != nil {
			return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
		}
	}
	results, err := s.db.SearchMessages(req.Query, chat, pageLimit(req.Limit))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return &SearchResponse{Results: results}, nil
}

// Watch streams bus events until the client goes away.
func (s *Service) Watch(req *WatchRequest, stream WatchStream) error {
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Warn("cannot encode event payload", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			if err := stream.Send(&EventEnvelope{
				EventID:          uuid.New().String(),
				Account:          s.account,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Kind:             evt.Kind,
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) statusResponse(st status.Status) *StatusResponse {
	resp := &StatusResponse{
		Account:  s.account,
		Status:   st,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if n, err := s.db.ChatCount(); err == nil {
		resp.ChatCount = n
	}
	if n, err := s.db.MessageCount(); err == nil {
		resp.MessageCount = n
	}
	return resp
}

func pageLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 500:
		return 500
	default:
		return n
	}
}

// sendError maps send failures to gRPC codes.
func sendError(err error) error {
	switch {
	case errors.Is(err, wa.ErrNotConnected):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, dispatch.ErrEmptyChat), errors.Is(err, dispatch.ErrEmptyBody), errors.Is(err, wa.ErrInvalidChat):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case wa.IsProtocolError(err):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	default:
		return grpcstatus.Errorf(codes.Internal, "send: %v", err)
	}
}
