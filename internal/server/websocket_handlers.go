package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/folio/internal/store"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketClientMessage is a control message sent by the client.
type WebSocketClientMessage struct {
	Type string `json:"type"` // "cancel"
}

// WebSocketOCRResponse is a progress message of a document OCR run.
type WebSocketOCRResponse struct {
	Type      string      `json:"type"`
	Status    string      `json:"status"` // "processing", "page", "completed", "error"
	DocID     string      `json:"doc_id,omitempty"`
	Progress  float64     `json:"progress"`
	Done      int         `json:"done,omitempty"`
	Total     int         `json:"total,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
}

// ocrWebSocketHandler runs OCR on all pages of a document and streams one
// message per finished page. The client may send {"type":"cancel"} or close
// the connection to stop the run.
func (s *Server) ocrWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if !store.ValidID(docID) {
		s.writeErrorResponse(w, "Document not found", http.StatusNotFound)
		return
	}
	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		s.writeErrorResponse(w, "Document not found", statusForError(err))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr, "doc_id", doc.ID)

	ctx, cancel := s.requestContext(context.Background())
	defer cancel()

	go s.readWebSocketControl(conn, cancel)
	go keepAlive(ctx, conn)

	s.sendWebSocketResponse(conn, WebSocketOCRResponse{
		Type:   "ocr_response",
		Status: "processing",
		DocID:  doc.ID,
		Total:  len(doc.Pages),
	})

	resp, err := s.runDocumentOCR(ctx, kindWebSocket, doc.ID, func(res PageOCRResult, done, total int) {
		s.sendWebSocketResponse(conn, WebSocketOCRResponse{
			Type:     "ocr_response",
			Status:   "page",
			DocID:    doc.ID,
			Progress: float64(done) / float64(total),
			Done:     done,
			Total:    total,
			Result:   res,
		})
	})
	if err != nil {
		s.sendWebSocketError(conn, "processing_error", err.Error())
		return
	}

	s.sendWebSocketResponse(conn, WebSocketOCRResponse{
		Type:     "ocr_response",
		Status:   "completed",
		DocID:    doc.ID,
		Progress: 1,
		Done:     len(resp.Results),
		Total:    len(resp.Results),
		Result:   resp,
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(wsWriteWait))
}

// readWebSocketControl reads client messages until the connection fails or
// the client asks to cancel.
func (s *Server) readWebSocketControl(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			continue
		}
		var msg WebSocketClientMessage
		if err := json.Unmarshal(data, &msg); err == nil && msg.Type == "cancel" {
			slog.Info("WebSocket OCR cancelled by client")
			return
		}
	}
}

// keepAlive pings the client until ctx ends.
func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// sendWebSocketResponse sends a response via WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketOCRResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message via WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketOCRResponse{
		Type:      "ocr_response",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
	})
}
