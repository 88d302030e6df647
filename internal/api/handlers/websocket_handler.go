package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/metrics"
	"github.com/sepsis-risk/backend/internal/service"
	"github.com/sepsis-risk/backend/pkg/logger"
)

type WebSocketHandler struct {
	predictor Predictor
	maxLen    int
}

func NewWebSocketHandler(predictor Predictor, maxLen int) *WebSocketHandler {
	return &WebSocketHandler{
		predictor: predictor,
		maxLen:    maxLen,
	}
}

type streamMessage struct {
	Type   string          `json:"type"`
	Record features.Record `json:"record"`
	Window int             `json:"window"`
}

type streamReply struct {
	Type     string `json:"type"`
	Buffered int    `json:"buffered"`
	Error    string `json:"error,omitempty"`
	*service.Prediction
}

// streamSession is the per-connection record buffer. Not safe for concurrent use.
type streamSession struct {
	predictor Predictor
	maxLen    int
	window    int
	records   []features.Record
}

func (h *WebSocketHandler) newSession() *streamSession {
	return &streamSession{
		predictor: h.predictor,
		maxLen:    h.maxLen,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket stream established")
	metrics.StreamSessions.Inc()

	defer func() {
		metrics.StreamSessions.Dec()
		c.Close()
		logger.Info("WebSocket stream closed")
	}()

	session := h.newSession()
	ctx := context.Background()

	for {
		var msg streamMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if err := c.WriteJSON(session.handle(ctx, msg)); err != nil {
			logger.Error("Failed to write WebSocket reply", zap.Error(err))
			break
		}
	}
}

func (s *streamSession) handle(ctx context.Context, msg streamMessage) streamReply {
	switch msg.Type {
	case "record":
		if msg.Record == nil {
			return s.fail("record is required")
		}
		s.records = append(s.records, msg.Record)
		if s.maxLen > 0 && len(s.records) > s.maxLen {
			s.records = s.records[len(s.records)-s.maxLen:]
		}
		if msg.Window != 0 {
			s.window = msg.Window
		}
		return s.predict(ctx)
	case "predict":
		if msg.Window != 0 {
			s.window = msg.Window
		}
		return s.predict(ctx)
	case "reset":
		s.records = nil
		s.window = 0
		return streamReply{Type: "reset"}
	default:
		return s.fail("unsupported message type")
	}
}

func (s *streamSession) predict(ctx context.Context) streamReply {
	p, err := s.predictor.Predict(ctx, service.Request{
		Records:     s.records,
		WindowHours: s.window,
		Source:      "stream",
	})
	if err != nil {
		return s.fail(messageFor(err, statusFor(err)))
	}

	return streamReply{
		Type:       "prediction",
		Buffered:   len(s.records),
		Prediction: p,
	}
}

func (s *streamSession) fail(msg string) streamReply {
	return streamReply{
		Type:     "error",
		Buffered: len(s.records),
		Error:    msg,
	}
}
