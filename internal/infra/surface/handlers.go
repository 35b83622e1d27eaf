package surface

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"smart-room/internal/application"
	"smart-room/internal/domain"
)

const maxFrameBytes = 8 * 1024 * 1024

func (s *Server) routes() {
	r := mux.NewRouter()
	s.router = r

	// No auth or rate limiting on health check
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	auth := tokenAuth(s.cfg.AuthToken, s.logger)
	r.Handle("/ws", auth(http.HandlerFunc(s.serveWs))).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(auth, s.limiter.middleware, s.touch)

	api.HandleFunc("/state", s.getState).Methods(http.MethodGet)
	api.HandleFunc("/activity", s.getActivity).Methods(http.MethodGet)

	api.HandleFunc("/devices", s.listDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/refresh", s.refreshDevices).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}", s.getDevice).Methods(http.MethodGet)
	api.HandleFunc("/devices/{id}", s.updateDevice).Methods(http.MethodPut)
	api.HandleFunc("/devices/{id}/toggle", s.toggleDevice).Methods(http.MethodPost)
	api.HandleFunc("/devices/{id}/slider/{phase:begin|move|release}", s.slider).Methods(http.MethodPost)

	api.HandleFunc("/command", s.command).Methods(http.MethodPost)

	api.HandleFunc("/frame", s.frame).Methods(http.MethodPost)
	api.HandleFunc("/gaze/enter", s.gazeEnter).Methods(http.MethodPost)
	api.HandleFunc("/gaze/leave", s.gazeLeave).Methods(http.MethodPost)
	api.HandleFunc("/keys/{edge:down|up}", s.key).Methods(http.MethodPost)
	api.HandleFunc("/look", s.look).Methods(http.MethodPost)
	api.HandleFunc("/lock", s.lock).Methods(http.MethodPost)
	api.HandleFunc("/unlock", s.unlock).Methods(http.MethodPost)
	api.HandleFunc("/webcam/close", s.closeWebcam).Methods(http.MethodPost)

	api.HandleFunc("/auth/open", s.authOpen).Methods(http.MethodPost)
	api.HandleFunc("/auth/close", s.authClose).Methods(http.MethodPost)
	api.HandleFunc("/auth/scan", s.authScan).Methods(http.MethodPost)
	api.HandleFunc("/auth/capture", s.authCapture).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", s.authRegister).Methods(http.MethodPost)
	api.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", s.logout).Methods(http.MethodDelete)

	api.HandleFunc("/presets", s.listPresets).Methods(http.MethodGet)
	api.HandleFunc("/presets/start", s.presetStart).Methods(http.MethodPost)
	api.HandleFunc("/presets/{shot:face|gesture}", s.presetCapture).Methods(http.MethodPost)
	api.HandleFunc("/presets/submit", s.presetSubmit).Methods(http.MethodPost)
	api.HandleFunc("/presets/cancel", s.presetCancel).Methods(http.MethodPost)
	api.HandleFunc("/presets/recall", s.presetRecall).Methods(http.MethodPost)

	api.HandleFunc("/camera", s.cameraStatus).Methods(http.MethodGet)
	api.HandleFunc("/camera/frame", s.cameraFrame).Methods(http.MethodPost)

	if s.voice != nil {
		api.PathPrefix("/voice/").Handler(http.StripPrefix("/voice", s.voice))
	}
}

// touch schedules a state broadcast after every mutating request.
func (s *Server) touch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if r.Method != http.MethodGet {
			s.markDirty()
		}
	})
}

// operationContext keeps backend writes alive when the renderer disconnects
// mid-request; the registry applies its own timeout.
func operationContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"renderers": s.hub.Clients(),
		"devices":   len(s.room.Registry.Snapshot()),
	})
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	greeting := s.stateMessage()
	s.hub.ServeWs(w, r, &greeting)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state())
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"entries": s.room.Activity.Entries(),
		"total":   s.room.Activity.Total(),
	})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.room.Registry.Snapshot())
}

func (s *Server) refreshDevices(w http.ResponseWriter, r *http.Request) {
	if err := s.room.Refresh(operationContext(r)); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.room.Registry.Snapshot())
}

// getDevice also accepts a device name, matched case-insensitively.
func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["id"]
	d, ok := s.room.Registry.Get(key)
	if !ok {
		d, ok = s.room.Registry.FindByName(key)
	}
	if !ok {
		s.fail(w, domain.ErrDeviceNotFound)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) respondDevice(w http.ResponseWriter, id string, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	d, _ := s.room.Registry.Get(id)
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) updateDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var patch domain.DeviceUpdate
	if err := decode(r, &patch); err != nil {
		s.fail(w, err)
		return
	}
	patch.ID = id
	s.respondDevice(w, id, s.room.Registry.Update(operationContext(r), id, patch))
}

func (s *Server) toggleDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.respondDevice(w, id, s.room.Registry.Toggle(operationContext(r), id))
}

type sliderRequest struct {
	Value int `json:"value"`
}

func (s *Server) slider(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	switch vars["phase"] {
	case "begin":
		v, err := s.room.Sliders.Begin(id)
		if err != nil {
			s.fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sliderRequest{Value: v})
	case "move":
		var req sliderRequest
		if err := decode(r, &req); err != nil {
			s.fail(w, err)
			return
		}
		v, err := s.room.Sliders.Move(id, req.Value)
		if err != nil {
			s.fail(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sliderRequest{Value: v})
	case "release":
		s.respondDevice(w, id, s.room.Sliders.Release(operationContext(r), id))
	}
}

type commandRequest struct {
	Text string `json:"text"`
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	updates, err := s.room.Dispatcher.Send(operationContext(r), req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	if updates == nil {
		updates = []domain.DeviceUpdate{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

type frameRequest struct {
	DT float64 `json:"dt"`
}

type frameResult struct {
	Position domain.Vec3           `json:"position"`
	Gaze     application.GazeState `json:"gaze"`
	Opened   bool                  `json:"feed_opened"`
}

// advance runs one render frame for gaze dwell and locomotion.
func (s *Server) advance(dt float64) (frameResult, error) {
	if dt < 0 || dt > 1 {
		return frameResult{}, fmt.Errorf("dt %.3f out of range: %w", dt, domain.ErrInvalidInput)
	}
	opened := s.room.Gaze.Frame(dt)
	pos := s.room.Locomotion.Frame(dt)
	return frameResult{Position: pos, Gaze: s.room.Gaze.State(), Opened: opened}, nil
}

func (s *Server) frame(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.advance(req.DT)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type targetRequest struct {
	ID string `json:"id"`
}

func (s *Server) gazeEnter(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.room.Gaze.Enter(req.ID); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.room.Gaze.State())
}

func (s *Server) gazeLeave(w http.ResponseWriter, r *http.Request) {
	s.room.Gaze.Leave()
	respondJSON(w, http.StatusOK, s.room.Gaze.State())
}

type keyRequest struct {
	Code string `json:"code"`
}

func (s *Server) key(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	var handled bool
	if mux.Vars(r)["edge"] == "down" {
		handled = s.room.Locomotion.KeyDown(req.Code)
	} else {
		handled = s.room.Locomotion.KeyUp(req.Code)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"handled": handled})
}

type lookRequest struct {
	Yaw float64 `json:"yaw"`
}

func (s *Server) look(w http.ResponseWriter, r *http.Request) {
	var req lookRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	s.room.Locomotion.Look(req.Yaw)
	respondJSON(w, http.StatusOK, s.room.Locomotion.State())
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	if err := s.room.Locomotion.Lock(); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.room.Locomotion.State())
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	s.room.Locomotion.Unlock()
	respondJSON(w, http.StatusOK, s.room.Locomotion.State())
}

func (s *Server) closeWebcam(w http.ResponseWriter, r *http.Request) {
	s.room.Overlays.CloseWebcam()
	respondJSON(w, http.StatusOK, s.room.Overlays.State())
}

func (s *Server) authOpen(w http.ResponseWriter, r *http.Request) {
	if err := s.room.Identity.OpenOverlay(operationContext(r)); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.room.Identity.Snapshot())
}

func (s *Server) authClose(w http.ResponseWriter, r *http.Request) {
	s.room.Identity.CloseOverlay()
	respondJSON(w, http.StatusOK, s.room.Identity.Snapshot())
}

func (s *Server) authScan(w http.ResponseWriter, r *http.Request) {
	if err := s.room.Identity.Scan(operationContext(r)); err != nil && !errors.Is(err, domain.ErrNoMatch) {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.room.Identity.Snapshot())
}

func (s *Server) authCapture(w http.ResponseWriter, r *http.Request) {
	if _, err := s.room.Identity.Capture(operationContext(r)); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.room.Identity.Snapshot())
}

type registerRequest struct {
	Name      string       `json:"name"`
	FaceImage domain.Frame `json:"face_image,omitempty"`
}

func (s *Server) authRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	face := req.FaceImage
	if face.Empty() {
		face = s.room.Identity.Captured()
	}
	user, err := s.room.Identity.Register(operationContext(r), req.Name, face)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.room.Identity.ActiveUsers())
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if !s.room.Identity.Logout(mux.Vars(r)["id"]) {
		respondError(w, http.StatusNotFound, "user not active")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.room.Presets.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, presets)
}

type presetStartRequest struct {
	Name string `json:"name"`
}

func (s *Server) presetStart(w http.ResponseWriter, r *http.Request) {
	var req presetStartRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.room.Presets.Start(operationContext(r), req.Name); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.room.Presets.Wizard())
}

func (s *Server) presetCapture(w http.ResponseWriter, r *http.Request) {
	capture := s.room.Presets.CaptureFace
	if mux.Vars(r)["shot"] == "gesture" {
		capture = s.room.Presets.CaptureGesture
	}
	if err := capture(operationContext(r)); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.room.Presets.Wizard())
}

func (s *Server) presetSubmit(w http.ResponseWriter, r *http.Request) {
	preset, err := s.room.Presets.Submit(operationContext(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, preset)
}

func (s *Server) presetCancel(w http.ResponseWriter, r *http.Request) {
	s.room.Presets.Cancel()
	respondJSON(w, http.StatusOK, s.room.Presets.Wizard())
}

func (s *Server) presetRecall(w http.ResponseWriter, r *http.Request) {
	preset, err := s.room.Presets.Recall(operationContext(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, preset)
}

func (s *Server) cameraStatus(w http.ResponseWriter, r *http.Request) {
	wanted := false
	if s.frames != nil {
		wanted = s.frames.Wanted()
	}
	respondJSON(w, http.StatusOK, map[string]bool{"wanted": wanted})
}

func (s *Server) cameraFrame(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		respondError(w, http.StatusNotFound, "camera frames are not accepted by this room")
		return
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil || len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty frame")
		return
	}
	if err := s.frames.Push(data); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads an optional JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding request body: %w: %w", domain.ErrInvalidInput, err)
	}
	return nil
}

func statusFor(err error) int {
	var failed *domain.DeviceUpdateFailed
	switch {
	case errors.Is(err, domain.ErrDeviceNotFound), errors.Is(err, domain.ErrNoMatch):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBusy), errors.Is(err, application.ErrOverlayOpen):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCameraUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &failed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	var failed *domain.DeviceUpdateFailed
	if errors.As(err, &failed) && failed.Message != "" {
		msg = failed.Message
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "status", status, "error", err)
	}
	respondError(w, status, strings.TrimSpace(msg))
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
