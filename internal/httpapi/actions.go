package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/matheus3301/wabridge/internal/dispatch"
	"github.com/matheus3301/wabridge/internal/wa"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// ActionRequest is the body of POST /api/whatsapp. Fields other than Action
// are read by the actions that need them.
type ActionRequest struct {
	Action   string `json:"action"`
	ChatID   string `json:"chatId"`
	Limit    int    `json:"limit"`
	BeforeTs int64  `json:"beforeTs"`
	Offset   int    `json:"offset"`
	To       string `json:"to"`
	Message  string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, errorResponse{Error: msg})
}

func (s *Server) handleAction(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid JSON in request body")
	}
	ctx := c.Request().Context()

	switch req.Action {
	case "init":
		st, err := s.session.EnsureConnected(ctx)
		if err != nil {
			s.logger.Warn("init failed", zap.Error(err))
			if st.Error == "" {
				st.Error = err.Error()
			}
		}
		return c.JSON(http.StatusOK, st)

	case "status":
		return c.JSON(http.StatusOK, s.session.Status())

	case "logout":
		if err := s.session.Logout(ctx); err != nil {
			s.logger.Error("logout failed", zap.Error(err))
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})

	case "getChats":
		limit := req.Limit
		if limit <= 0 {
			limit = 50
		}
		chats, err := s.db.ListChats(limit, max(req.Offset, 0))
		if err != nil {
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{"chats": chats})

	case "getChatMessages":
		if req.ChatID == "" {
			return jsonError(c, http.StatusBadRequest, "Chat ID is required")
		}
		chat, err := wa.NormalizeChatID(req.ChatID)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, err.Error())
		}
		msgs, err := s.db.ListMessages(chat, req.BeforeTs, req.Limit)
		if err != nil {
			return jsonError(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{"messages": msgs})

	case "sendMessage":
		if req.To == "" || req.Message == "" {
			return jsonError(c, http.StatusBadRequest, "To and message are required")
		}
		msg, err := s.sender.SendAndRecord(ctx, req.To, req.Message)
		if err != nil {
			return jsonError(c, sendStatus(err), err.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{"success": true, "message": msg})

	case "archiveChat", "markChatAsRead":
		return jsonError(c, http.StatusNotImplemented, req.Action+" is not supported")

	default:
		return jsonError(c, http.StatusBadRequest, "Invalid action")
	}
}

func sendStatus(err error) int {
	switch {
	case errors.Is(err, wa.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrEmptyChat), errors.Is(err, dispatch.ErrEmptyBody), errors.Is(err, wa.ErrInvalidChat):
		return http.StatusBadRequest
	case wa.IsProtocolError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleQR renders the pending pairing code as a PNG.
func (s *Server) handleQR(c echo.Context) error {
	st := s.session.Status()
	if st.QRCode == "" {
		return jsonError(c, http.StatusNotFound, "no QR code pending")
	}
	png, err := qrcode.Encode(st.QRCode, qrcode.Medium, 256)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}
