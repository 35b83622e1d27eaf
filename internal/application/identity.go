package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"smart-room/internal/domain"
)

type IdentityStatus string

const (
	StatusIdle                 IdentityStatus = "idle"
	StatusCapturing            IdentityStatus = "capturing"
	StatusAwaitingRecognition  IdentityStatus = "awaiting-recognition"
	StatusRecognized           IdentityStatus = "recognized"
	StatusRetrying             IdentityStatus = "retrying"
	StatusManualRegistration   IdentityStatus = "manual-registration"
	StatusAwaitingRegistration IdentityStatus = "awaiting-registration"
	StatusRegistering          IdentityStatus = "registering"
	StatusStalled              IdentityStatus = "stalled"
	StatusCameraUnavailable    IdentityStatus = "camera-unavailable"
)

type IdentityConfig struct {
	MaxRetries     int
	RetryDelay     time.Duration
	CloseDelay     time.Duration
	RequestTimeout time.Duration
}

func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
		CloseDelay:     800 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
	}
}

type IdentitySnapshot struct {
	Status      IdentityStatus       `json:"status"`
	Message     string               `json:"message"`
	Retries     int                  `json:"retries"`
	MaxRetries  int                  `json:"max_retries"`
	ActiveUsers []domain.UserProfile `json:"active_users"`
	HasCapture  bool                 `json:"has_capture"`
}

// Identity runs face recognition and enrollment for the people in the room.
// Automatic recognition retries a bounded number of times, then waits for the
// user to either scan manually or register.
type Identity struct {
	backend  IdentityBackend
	camera   *Camera
	overlays *Overlays
	activity *ActivityLog
	notifier Notifier
	clock    clock.WithDelayedExecution
	cfg      IdentityConfig
	logger   *slog.Logger

	mu          sync.Mutex
	status      IdentityStatus
	message     string
	retries     int
	active      []domain.UserProfile
	captured    domain.Frame
	scanning    bool
	registering bool
	retryTimer  clock.Timer
	retryGen    int
	closeTimer  clock.Timer
	session     context.Context
	endSession  context.CancelFunc
}

func NewIdentity(
	backend IdentityBackend,
	camera *Camera,
	overlays *Overlays,
	activity *ActivityLog,
	notifier Notifier,
	clk clock.WithDelayedExecution,
	cfg IdentityConfig,
	logger *slog.Logger,
) *Identity {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Identity{
		backend:  backend,
		camera:   camera,
		overlays: overlays,
		activity: activity,
		notifier: notifier,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		status:   StatusIdle,
	}
}

// OpenOverlay shows the identity overlay, acquires the camera and schedules
// the first automatic recognition attempt.
func (m *Identity) OpenOverlay(ctx context.Context) error {
	if err := m.camera.Open(ctx); err != nil {
		m.setStatus(StatusCameraUnavailable, "camera unavailable, check permissions")
		m.activity.Warn("camera unavailable", "error", err)
		m.overlays.SetAuthOpen(false)
		return err
	}

	// The retry timer is only armed while the overlay is open.
	m.overlays.SetAuthOpen(true)

	m.mu.Lock()
	m.stopTimersLocked()
	if m.endSession != nil {
		m.endSession()
	}
	m.session, m.endSession = context.WithCancel(context.WithoutCancel(ctx))
	m.retries = 0
	m.captured = ""
	m.status = StatusAwaitingRecognition
	m.message = "look at the camera"
	m.scheduleRetryLocked()
	m.mu.Unlock()
	return nil
}

// CloseOverlay hides the overlay and releases the camera. Pending attempts are cancelled.
func (m *Identity) CloseOverlay() {
	m.mu.Lock()
	m.stopTimersLocked()
	if m.endSession != nil {
		m.endSession()
		m.endSession = nil
	}
	m.captured = ""
	if m.status != StatusRecognized {
		m.status = StatusIdle
		m.message = ""
	}
	m.mu.Unlock()

	if err := m.camera.Close(); err != nil {
		m.logger.Warn("releasing camera", "error", err)
	}
	m.overlays.SetAuthOpen(false)
}

// Scan captures a frame and runs recognition on it. It is always allowed,
// including after automatic retries are exhausted.
func (m *Identity) Scan(ctx context.Context) error {
	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return domain.ErrBusy
	}
	m.scanning = true
	m.stopRetryLocked()
	m.status = StatusCapturing
	m.message = ""
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
	}()

	frame, err := m.camera.Capture(ctx)
	if err != nil {
		if aborted(ctx, err) {
			return err
		}
		m.setStatus(StatusCameraUnavailable, "could not capture a frame")
		m.activity.Warn("capture failed", "error", err)
		return err
	}

	return m.Recognize(ctx, frame)
}

// Recognize sends one frame to the recognition backend and applies the retry policy.
func (m *Identity) Recognize(ctx context.Context, frame domain.Frame) error {
	if frame.Empty() {
		return fmt.Errorf("recognizing: empty frame: %w", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	m.stopRetryLocked()
	m.status = StatusAwaitingRecognition
	m.message = fmt.Sprintf("recognizing (%d/%d)...", m.retries+1, m.cfg.MaxRetries)
	m.mu.Unlock()

	reqCtx, cancel := requestContext(ctx, m.cfg.RequestTimeout)
	defer cancel()

	user, err := m.backend.Login(reqCtx, frame)
	if err != nil {
		if aborted(ctx, err) {
			// The overlay closed mid-attempt: not a failed attempt.
			m.logger.Debug("recognition attempt abandoned", "error", err)
			return fmt.Errorf("recognizing face: %w", err)
		}
		m.recognitionFailed(err)
		return fmt.Errorf("recognizing face: %w", err)
	}

	m.recognized(ctx, user)
	return nil
}

func (m *Identity) recognized(ctx context.Context, user domain.UserProfile) {
	m.mu.Lock()
	known := m.isActiveLocked(user.ID)
	if !known {
		m.active = append(m.active, user)
	}
	m.retries = 0
	m.status = StatusRecognized
	m.message = fmt.Sprintf("welcome, %s", user.Name)
	if m.closeTimer != nil {
		m.closeTimer.Stop()
	}
	if m.overlays.State().AuthOpen {
		m.closeTimer = m.clock.AfterFunc(m.cfg.CloseDelay, func() {
			go m.CloseOverlay()
		})
	}
	m.mu.Unlock()

	if known {
		m.activity.Add(fmt.Sprintf("identity confirmed: %s", user.Name), "user", user.ID)
		return
	}
	m.activity.Add(fmt.Sprintf("recognized: welcome back, %s", user.Name), "user", user.ID)
	if err := m.notifier.Notify(ctx, fmt.Sprintf("%s entered the room", user.Name)); err != nil {
		m.logger.Error("notifying recognition", "error", err)
	}
}

func (m *Identity) recognitionFailed(err error) {
	m.mu.Lock()
	m.retries++
	retries := m.retries

	reason := "recognition service error"
	switch {
	case errors.Is(err, domain.ErrNoMatch):
		reason = "not recognized"
	case isStalled(err):
		reason = "recognition stalled"
	}

	switch {
	case retries >= m.cfg.MaxRetries:
		m.status = StatusManualRegistration
		m.message = fmt.Sprintf("%s after %d attempts, scan again or register", reason, retries)
	case isStalled(err):
		m.status = StatusStalled
		m.message = fmt.Sprintf("%s, retrying (%d/%d)", reason, retries, m.cfg.MaxRetries)
		m.scheduleRetryLocked()
	default:
		m.status = StatusRetrying
		m.message = fmt.Sprintf("%s, retrying (%d/%d)", reason, retries, m.cfg.MaxRetries)
		m.scheduleRetryLocked()
	}
	m.mu.Unlock()

	if errors.Is(err, domain.ErrNoMatch) {
		m.activity.Add(reason, "attempt", retries)
		return
	}
	m.activity.Warn(fmt.Sprintf("%s: %v", reason, err), "attempt", retries)
}

// Capture takes a frame for enrollment and keeps it until Register or CloseOverlay.
func (m *Identity) Capture(ctx context.Context) (domain.Frame, error) {
	m.mu.Lock()
	m.stopRetryLocked()
	m.mu.Unlock()

	frame, err := m.camera.Capture(ctx)
	if err != nil {
		m.setStatus(StatusCameraUnavailable, "could not capture a frame")
		return "", err
	}

	m.mu.Lock()
	m.captured = frame
	m.status = StatusAwaitingRegistration
	m.message = "enter your name and confirm"
	m.mu.Unlock()
	return frame, nil
}

func (m *Identity) Captured() domain.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captured
}

// Register enrolls a new user. Only one registration may be in flight; a
// concurrent call returns domain.ErrBusy without doing anything.
func (m *Identity) Register(ctx context.Context, name string, frame domain.Frame) (domain.UserProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" || frame.Empty() {
		return domain.UserProfile{}, fmt.Errorf("registering: name and face image are required: %w", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	if m.registering {
		m.mu.Unlock()
		return domain.UserProfile{}, domain.ErrBusy
	}
	m.registering = true
	m.stopRetryLocked()
	m.status = StatusRegistering
	m.message = fmt.Sprintf("registering %s...", name)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.registering = false
		m.mu.Unlock()
	}()

	m.activity.Add(fmt.Sprintf("registering %s...", name))

	reqCtx, cancel := requestContext(ctx, m.cfg.RequestTimeout)
	defer cancel()

	user, err := m.backend.Register(reqCtx, name, frame)
	if err != nil {
		status, msg := StatusAwaitingRegistration, fmt.Sprintf("registration failed: %v", err)
		if isStalled(err) {
			status, msg = StatusStalled, "registration stalled, try again"
		}
		m.setStatus(status, msg)
		m.activity.Warn(msg, "name", name)
		return domain.UserProfile{}, fmt.Errorf("registering user: %w", err)
	}

	m.mu.Lock()
	if !m.isActiveLocked(user.ID) {
		m.active = append(m.active, user)
	}
	m.retries = 0
	m.captured = ""
	m.status = StatusRecognized
	m.message = fmt.Sprintf("welcome, %s", user.Name)
	m.mu.Unlock()

	m.activity.Add(fmt.Sprintf("registered: %s", user.Name), "user", user.ID)
	m.CloseOverlay()
	return user, nil
}

// Logout removes a user from the active set. It is local only.
func (m *Identity) Logout(id string) bool {
	m.mu.Lock()
	removed := false
	for i, u := range m.active {
		if u.ID == id {
			m.active = append(m.active[:i], m.active[i+1:]...)
			removed = true
			break
		}
	}
	m.mu.Unlock()

	if removed {
		m.activity.Add("user signed out", "user", id)
	}
	return removed
}

func (m *Identity) ActiveUsers() []domain.UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.UserProfile, len(m.active))
	copy(result, m.active)
	return result
}

func (m *Identity) Snapshot() IdentitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]domain.UserProfile, len(m.active))
	copy(users, m.active)
	return IdentitySnapshot{
		Status:      m.status,
		Message:     m.message,
		Retries:     m.retries,
		MaxRetries:  m.cfg.MaxRetries,
		ActiveUsers: users,
		HasCapture:  !m.captured.Empty(),
	}
}

// RetryPending reports whether an automatic attempt is scheduled.
func (m *Identity) RetryPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryTimer != nil
}

// Shutdown cancels timers and releases the camera without touching overlays.
func (m *Identity) Shutdown() {
	m.mu.Lock()
	m.stopTimersLocked()
	if m.endSession != nil {
		m.endSession()
		m.endSession = nil
	}
	m.mu.Unlock()

	if err := m.camera.Close(); err != nil {
		m.logger.Warn("releasing camera", "error", err)
	}
}

// scheduleRetryLocked arms the next automatic attempt. Nothing is scheduled
// when the overlay is closed or retries are used up.
func (m *Identity) scheduleRetryLocked() {
	m.stopRetryLocked()
	if m.retries >= m.cfg.MaxRetries || !m.overlays.State().AuthOpen {
		return
	}
	session := m.session
	if session == nil {
		session = context.Background()
	}
	m.retryGen++
	gen := m.retryGen
	// The callback may run under the clock's own lock, so the attempt gets its own goroutine.
	m.retryTimer = m.clock.AfterFunc(m.cfg.RetryDelay, func() {
		go m.autoScan(session, gen)
	})
}

func (m *Identity) autoScan(ctx context.Context, gen int) {
	m.mu.Lock()
	current := m.retryTimer != nil && m.retryGen == gen
	if current {
		m.retryTimer = nil
	}
	m.mu.Unlock()

	if !current || ctx.Err() != nil {
		return
	}
	if err := m.Scan(ctx); err != nil && !errors.Is(err, domain.ErrNoMatch) {
		m.logger.Debug("automatic recognition attempt", "error", err)
	}
}

func (m *Identity) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Identity) stopTimersLocked() {
	m.stopRetryLocked()
	if m.closeTimer != nil {
		m.closeTimer.Stop()
		m.closeTimer = nil
	}
}

// aborted reports whether an attempt failed because its context was cancelled,
// as happens to automatic attempts when the overlay closes. A deadline is a
// stall, not an abort.
func aborted(ctx context.Context, err error) bool {
	return err != nil && errors.Is(ctx.Err(), context.Canceled)
}

func (m *Identity) setStatus(status IdentityStatus, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.message = message
}

func (m *Identity) isActiveLocked(id string) bool {
	for _, u := range m.active {
		if u.ID == id {
			return true
		}
	}
	return false
}
