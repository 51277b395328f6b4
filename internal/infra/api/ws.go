package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"

	"ai-video-studio/internal/domain/model"
	"ai-video-studio/internal/infra/hub"
	"ai-video-studio/internal/infra/logging"
	"ai-video-studio/internal/infra/metrics"
)

// clientFrame is what a browser sends on the push channel.
type clientFrame struct {
	Type   string                  `json:"type"`
	JobID  string                  `json:"jobId,omitempty"`
	Params *model.GenerationParams `json:"params,omitempty"`
}

// wsSink adapts a websocket connection to hub.Sink. Only the hub's writer
// goroutine calls Send.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, ev hub.Event) error {
	return wsjson.Write(ctx, s.conn, ev)
}

func (s *wsSink) Close() error {
	return s.conn.Close(websocket.StatusGoingAway, "write failed")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	connID := ulid.Make().String()
	ctx := logging.WithConnID(r.Context(), connID)
	log := logging.With(ctx, s.log)

	if err := s.hub.Connect(connID, &wsSink{conn: conn}); err != nil {
		log.Error().Err(err).Msg("register push connection")
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	defer s.hub.Disconnect(connID)
	log.Debug().Msg("push connection opened")

	client := clientID(r)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if st := websocket.CloseStatus(err); st != websocket.StatusNormalClosure && st != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Msg("push connection read ended")
			}
			return
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			metrics.IncWSFrame("invalid")
			s.hub.SendError(connID, "", "malformed frame")
			continue
		}
		s.handleFrame(ctx, connID, client, f)
	}
}

func (s *Server) handleFrame(ctx context.Context, connID, client string, f clientFrame) {
	switch f.Type {
	case "generate":
		metrics.IncWSFrame(f.Type)
		if f.Params == nil {
			s.hub.SendError(connID, "", "params are required")
			return
		}
		id, err := s.submit(ctx, client, *f.Params)
		if err != nil {
			_, msg, _ := describeError(err)
			s.hub.SendError(connID, "", msg)
			return
		}
		// The subscription snapshot tells the client its job id.
		if err := s.hub.Subscribe(ctx, connID, id); err != nil {
			_, msg, _ := describeError(err)
			s.hub.SendError(connID, id, msg)
		}
	case "subscribe":
		metrics.IncWSFrame(f.Type)
		if f.JobID == "" {
			s.hub.SendError(connID, "", "jobId is required")
			return
		}
		if err := s.hub.Subscribe(ctx, connID, f.JobID); err != nil {
			_, msg, _ := describeError(err)
			s.hub.SendError(connID, f.JobID, msg)
		}
	case "unsubscribe":
		metrics.IncWSFrame(f.Type)
		s.hub.Unsubscribe(connID, f.JobID)
	default:
		metrics.IncWSFrame("invalid")
		s.hub.SendError(connID, f.JobID, "unknown frame type")
	}
}
