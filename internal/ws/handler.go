package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mdobak/go-xerrors"
	"github.com/rs/zerolog"

	"bevsync/internal/middleware"
	"bevsync/internal/pipeline"
	"bevsync/internal/registry"
)

const (
	// EdgeTokenHeader carries an edge device's ingest token.
	EdgeTokenHeader = "X-Edge-Token"

	viewerReadLimit  = 4 << 10
	controlReadLimit = 64 << 10
	ingestReadLimit  = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Viewers are served from other origins (map and video pages)
		return true
	},
}

// Handler serves the viewer, control and ingest websocket channels.
type Handler struct {
	engine  *pipeline.Engine
	viewers *Hub
	control *Hub
	log     zerolog.Logger

	focusMu sync.Mutex
	focus   *int

	ingestMu sync.Mutex
	ingest   map[*websocket.Conn]int
}

// NewHandler creates the websocket handler. The viewer hub should already be
// subscribed to the engine's event bus.
func NewHandler(engine *pipeline.Engine, viewers, control *Hub, log zerolog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		viewers: viewers,
		control: control,
		log:     log.With().Str("component", "ws").Logger(),
		ingest:  make(map[*websocket.Conn]int),
	}
}

// ServeViewer handles /ws. The viewer gets camera_init, then everyone gets a
// fresh detected_data and camera_status. Inbound text is ignored.
func (h *Handler) ServeViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("viewer upgrade failed")
		return
	}

	c := h.viewers.Register(conn, h.engine.CameraInit())
	h.log.Info().Str("client", c.ID.String()).Str("remote", r.RemoteAddr).Msg("viewer connected")
	h.engine.PublishSnapshot()

	go h.viewers.readPump(c, viewerReadLimit, nil)
}

// ServeControl handles /ui, the map and video pages' shared control channel.
func (h *Handler) ServeControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("control upgrade failed")
		return
	}

	c := h.control.Register(conn, NewHelloMessage(), NewFocusMessage(h.Focus()))
	h.log.Info().Str("client", c.ID.String()).Str("remote", r.RemoteAddr).Msg("control client connected")

	go h.control.readPump(c, controlReadLimit, h.handleControl)
}

// Focus returns the currently focused global id, or nil.
func (h *Handler) Focus() *int {
	h.focusMu.Lock()
	defer h.focusMu.Unlock()
	if h.focus == nil {
		return nil
	}
	gid := *h.focus
	return &gid
}

func (h *Handler) setFocus(gid *int) {
	h.focusMu.Lock()
	defer h.focusMu.Unlock()
	h.focus = gid
}

func (h *Handler) handleControl(data []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Warn().Err(err).Msg("dropping malformed control message")
		return
	}

	switch msg.Type {
	case TypeFocusGID:
		var d struct {
			GID any `json:"gid"`
		}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				h.log.Debug().Err(err).Msg("focus_gid data is not an object")
			}
		}
		gid := NormalizeGID(d.GID)
		h.setFocus(gid)
		h.control.BroadcastJSON(NewFocusMessage(gid))
		return

	case TypeCamMeta:
		var meta map[string]any
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &meta); err != nil {
				h.log.Warn().Err(err).Msg("cam_meta data is not an object")
			}
		}
		if id, ok := cameraIDString(meta["cam_id"]); ok {
			if _, err := h.engine.UpsertCamera(id, meta); err != nil {
				h.log.Warn().Err(err).Str("cam_id", id).Msg("rejected cam_meta")
			}
		}
	}

	h.control.Broadcast(data)
}

// ServeIngest handles /ingest/{cam_id}. The connection is authenticated after
// the upgrade so failures can be reported with a policy-violation close.
func (h *Handler) ServeIngest(w http.ResponseWriter, r *http.Request) {
	cameraID, err := strconv.Atoi(r.PathValue("cam_id"))
	if err != nil {
		http.Error(w, "invalid camera id", http.StatusBadRequest)
		return
	}

	token := r.Header.Get(EdgeTokenHeader)
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Int("camera", cameraID).Msg("ingest upgrade failed")
		return
	}

	if err := h.engine.Connect(cameraID, token); err != nil {
		h.log.Warn().Err(err).Int("camera", cameraID).Str("remote", r.RemoteAddr).Msg("ingest rejected")
		reason := "unauthorized"
		if errors.Is(err, registry.ErrCameraNotRegistered) {
			reason = registry.ErrCameraNotRegistered.Error()
		}
		closeConn(conn, websocket.ClosePolicyViolation, reason)
		return
	}

	h.trackIngest(conn, cameraID)
	go h.ingestLoop(conn, cameraID)
}

func (h *Handler) ingestLoop(conn *websocket.Conn, cameraID int) {
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.untrackIngest(conn)
			h.engine.Disconnect(cameraID)
			conn.Close()
		})
	}
	defer cleanup()

	conn.SetReadLimit(ingestReadLimit)
	log := h.log.With().Int("camera", cameraID).Logger()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				err := xerrors.New(err)
				log.Warn().Err(err).Msg("ingest connection lost")
			}
			return
		}

		var msg pipeline.FrameMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		h.engine.Ingest(cameraID, &msg)
	}
}

func (h *Handler) trackIngest(conn *websocket.Conn, cameraID int) {
	h.ingestMu.Lock()
	defer h.ingestMu.Unlock()
	h.ingest[conn] = cameraID
}

func (h *Handler) untrackIngest(conn *websocket.Conn) {
	h.ingestMu.Lock()
	defer h.ingestMu.Unlock()
	delete(h.ingest, conn)
}

// Shutdown closes every open websocket. Ingest connections run their
// normal disconnect cleanup as their read loops end.
func (h *Handler) Shutdown() {
	h.ingestMu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.ingest))
	for conn := range h.ingest {
		conns = append(conns, conn)
	}
	h.ingestMu.Unlock()

	for _, conn := range conns {
		closeConn(conn, websocket.CloseGoingAway, "server shutting down")
	}
	h.viewers.Close()
	h.control.Close()
}

// closeConn sends a close frame with code and reason, then closes conn.
func closeConn(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	conn.Close()
}
