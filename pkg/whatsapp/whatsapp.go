package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	qrCode "github.com/skip2/go-qrcode"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	wmstore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/env"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/log"
	"github.com/wabridge/go-whatsapp-instance-rest-api/pkg/store"
)

var (
	ErrSessionNotFound        = errors.New("no session is registered for this instance")
	ErrSessionNotReady        = errors.New("session is not ready to send messages")
	ErrNoQRPending            = errors.New("no QR challenge is pending for this instance")
	ErrSendTimeout            = errors.New("send request timed out")
	ErrRecipientNotRegistered = errors.New("recipient is not registered on WhatsApp")
)

const (
	qrChannelWaitTimeout  = 2 * time.Minute
	logoutRequestTimeout  = 30 * time.Second
	routingCleanupTimeout = 5 * time.Second
	sendRequestTimeout    = 30 * time.Second
)

var (
	container      *sqlstore.Container
	containerOnce  sync.Once
	containerErr   error
	clientProxyURL string

	sessionsMu sync.RWMutex
	sessions   = make(map[string]*Session)

	openGroup singleflight.Group
)

// Datastore lazily opens the whatsmeow sqlstore container on the same
// database as the credential tables, so session blobs are rows scoped per
// device instead of a shared file on disk.
func Datastore() (*sqlstore.Container, error) {
	containerOnce.Do(func() {
		driver, err := store.Driver()
		if err != nil {
			containerErr = err
			return
		}
		dsn, err := store.DSN()
		if err != nil {
			containerErr = err
			return
		}

		log.Print(nil).Info("Initializing WhatsApp datastore with driver=" + driver)

		datastore, err := sqlstore.New(context.Background(), driver, dsn, nil)
		if err != nil {
			containerErr = err
			return
		}
		if err = datastore.Upgrade(context.Background()); err != nil {
			containerErr = err
			return
		}

		clientProxyURL, _ = env.GetEnvString("WHATSAPP_CLIENT_PROXY_URL")
		container = datastore
	})
	return container, containerErr
}

// Session holds one instance's client plus its lifecycle state. All sends for
// an instance serialize on sendMu, so interleaved handlers cannot corrupt the
// client's send pipeline.
type Session struct {
	instanceID string
	client     *whatsmeow.Client

	stateMu     sync.RWMutex
	state       ConnectionState
	lastError   string
	qrImage     string
	qrExpiresAt time.Time

	sendMu  sync.Mutex
	limiter *rate.Limiter
}

func getSession(instanceID string) *Session {
	sessionsMu.RLock()
	session := sessions[instanceID]
	sessionsMu.RUnlock()
	return session
}

func setSession(instanceID string, session *Session) {
	sessionsMu.Lock()
	sessions[instanceID] = session
	sessionsMu.Unlock()
}

func deleteSession(instanceID string) {
	sessionsMu.Lock()
	delete(sessions, instanceID)
	sessionsMu.Unlock()
}

// RangeSessions visits a snapshot of the registry.
func RangeSessions(fn func(instanceID string, session *Session)) {
	sessionsMu.RLock()
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sessionsMu.RUnlock()
	for _, id := range ids {
		if session := getSession(id); session != nil {
			fn(id, session)
		}
	}
}

// SessionsLen returns the number of registered sessions.
func SessionsLen() int {
	sessionsMu.RLock()
	defer sessionsMu.RUnlock()
	return len(sessions)
}

// State returns the session's current lifecycle state.
func (s *Session) State() ConnectionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// LastError returns the failure detail recorded with a terminal state.
func (s *Session) LastError() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastError
}

// setState applies a transition if it is legal and reports whether it took
// effect. Illegal transitions are dropped, so a late event cannot resurrect a
// terminal session.
func (s *Session) setState(next ConnectionState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == next {
		return true
	}
	if !s.state.CanTransition(next) {
		log.InstanceOp(s.instanceID, "state").
			Debug("Ignoring illegal transition " + string(s.state) + " -> " + string(next))
		return false
	}
	log.InstanceOp(s.instanceID, "state").
		Info("Session state " + string(s.state) + " -> " + string(next))
	s.state = next
	if next != StateAwaitingQR {
		s.qrImage = ""
		s.qrExpiresAt = time.Time{}
	}
	return true
}

func (s *Session) failWith(err error) {
	s.stateMu.Lock()
	if s.state.CanTransition(StateFailed) {
		log.InstanceOp(s.instanceID, "state").
			WithError(err).Warn("Session state " + string(s.state) + " -> " + string(StateFailed))
		s.state = StateFailed
		s.lastError = err.Error()
		s.qrImage = ""
		s.qrExpiresAt = time.Time{}
	}
	s.stateMu.Unlock()
}

func (s *Session) setQR(image string, expiresAt time.Time) {
	s.stateMu.Lock()
	if s.state.CanTransition(StateAwaitingQR) || s.state == StateAwaitingQR {
		s.state = StateAwaitingQR
		s.qrImage = image
		s.qrExpiresAt = expiresAt
	}
	s.stateMu.Unlock()
}

// QR returns the pending QR challenge as a PNG data URI plus the seconds left
// before it rotates. ErrNoQRPending when the session is past (or before) the
// pairing step.
func (s *Session) QR() (string, int, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.state != StateAwaitingQR || s.qrImage == "" {
		return "", 0, ErrNoQRPending
	}
	remaining := int(time.Until(s.qrExpiresAt).Seconds())
	if remaining <= 0 {
		return "", 0, ErrNoQRPending
	}
	return s.qrImage, remaining, nil
}

// Open registers (or reuses) a session for an instance and starts connecting
// in the background. Concurrent opens for the same instance collapse into a
// single attempt.
func Open(ctx context.Context, instanceID string) (*Session, error) {
	result, err, _ := openGroup.Do(instanceID, func() (interface{}, error) {
		return openSession(ctx, instanceID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

func openSession(ctx context.Context, instanceID string) (*Session, error) {
	if existing := getSession(instanceID); existing != nil && !existing.State().IsTerminal() {
		return existing, nil
	}

	datastore, err := Datastore()
	if err != nil {
		return nil, err
	}

	device, err := deviceForInstance(ctx, datastore, instanceID)
	if err != nil {
		return nil, err
	}

	wmstore.DeviceProps.Os = proto.String(runtime.GOOS)
	wmstore.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	wmstore.DeviceProps.RequireFullSync = proto.Bool(false)

	client := whatsmeow.NewClient(device, nil)
	if len(clientProxyURL) > 0 {
		client.SetProxyAddress(clientProxyURL)
	}
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true

	session := &Session{
		instanceID: instanceID,
		client:     client,
		state:      StateInitializing,
		limiter:    newSendLimiter(),
	}
	client.AddEventHandler(session.handleEvents)
	setSession(instanceID, session)

	if client.Store.ID == nil {
		qrCtx, qrCancel := context.WithTimeout(context.Background(), qrChannelWaitTimeout)
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			qrCancel()
			session.failWith(err)
			return nil, err
		}
		if err = client.Connect(); err != nil {
			qrCancel()
			session.failWith(err)
			return nil, err
		}
		go session.consumeQRChannel(qrCtx, qrCancel, qrChan)
		return session, nil
	}

	if err = client.Connect(); err != nil {
		session.failWith(err)
		return nil, err
	}
	return session, nil
}

// deviceForInstance resolves the whatsmeow device routed to an instance, or
// reserves a routing row and mints a fresh device for first pairing.
func deviceForInstance(ctx context.Context, datastore *sqlstore.Container, instanceID string) (*wmstore.Device, error) {
	storeJID, _, err := store.GetStoreJID(ctx, instanceID)
	if err != nil && !errors.Is(err, store.ErrInstanceNotFound) {
		return nil, err
	}
	if storeJID != "" {
		parsed, parseErr := types.ParseJID(storeJID)
		if parseErr == nil {
			device, getErr := datastore.GetDevice(ctx, parsed)
			if getErr == nil && device != nil {
				return device, nil
			}
		}
	}
	if err := store.SaveInstanceRouting(ctx, instanceID, ""); err != nil {
		return nil, err
	}
	return datastore.NewDevice(), nil
}

func newSendLimiter() *rate.Limiter {
	perMinute := env.GetEnvIntOrDefault("WHATSAPP_SEND_RATE_PER_MINUTE", 20)
	if perMinute <= 0 {
		perMinute = 20
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 3)
}

// consumeQRChannel drives the pairing handshake: each rotated code is encoded
// to a PNG data URI and published on the session until the channel reports
// success or gives up.
func (s *Session) consumeQRChannel(ctx context.Context, cancel context.CancelFunc, qrChan <-chan whatsmeow.QRChannelItem) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			if s.State() == StateAwaitingQR || s.State() == StateInitializing {
				s.failWith(errors.New("qr pairing window expired"))
			}
			return
		case evt, ok := <-qrChan:
			if !ok {
				return
			}
			switch {
			case evt.Event == "code":
				qrPNG, err := qrCode.Encode(evt.Code, qrCode.Medium, 256)
				if err != nil {
					s.failWith(err)
					return
				}
				image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrPNG)
				s.setQR(image, time.Now().Add(evt.Timeout))
			case evt.Event == whatsmeow.QRChannelSuccess.Event:
				s.setState(StateAuthenticated)
				return
			case evt.Event == whatsmeow.QRChannelTimeout.Event:
				s.failWith(errors.New("qr pairing window expired"))
				return
			case evt.Event == whatsmeow.QRChannelClientOutdated.Event:
				s.failWith(errors.New("client version is outdated for QR pairing"))
				return
			case evt.Event == whatsmeow.QRChannelScannedWithoutMultidevice.Event:
				s.failWith(errors.New("qr scanned without multi-device enabled"))
				return
			case evt.Event == "error":
				if evt.Error != nil {
					s.failWith(evt.Error)
				} else {
					s.failWith(errors.New("qr channel reported an unspecified error"))
				}
				return
			}
		}
	}
}

func (s *Session) handleEvents(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		s.setState(StateAuthenticated)
		_ = store.SaveInstanceRouting(context.Background(), s.instanceID, e.ID.String())
	case *events.Connected:
		s.setState(StateReady)
		if s.client.Store.ID != nil {
			_ = store.SaveInstanceRouting(context.Background(), s.instanceID, s.client.Store.ID.String())
		}
	case *events.LoggedOut:
		log.InstanceOp(s.instanceID, "events").Warn("Session logged out remotely")
		s.client.Disconnect()
		s.terminate(StateDisconnected)
	case *events.StreamReplaced:
		log.InstanceOp(s.instanceID, "events").Warn("Session stream replaced by another connection")
		s.client.Disconnect()
		s.terminate(StateDisconnected)
	case *events.ConnectFailure:
		s.failWith(fmt.Errorf("connection failure: %s", e.Reason))
	case *events.TemporaryBan:
		s.failWith(fmt.Errorf("temporarily banned: %s, expires=%s", e.Code, e.Expire))
	case *events.Disconnected:
		// Transient; the client auto-reconnects and Connected confirms
		// recovery.
		log.InstanceOp(s.instanceID, "events").Warn("Session transport dropped, reconnecting")
	case *events.KeepAliveTimeout:
		log.InstanceOp(s.instanceID, "events").
			Warn(fmt.Sprintf("Session keepalive timeout, errors=%d, lastSuccess=%s", e.ErrorCount, e.LastSuccess.Format(time.RFC3339)))
	}
}

func (s *Session) terminate(final ConnectionState) {
	s.setState(final)
	routingCtx, routingCancel := context.WithTimeout(context.Background(), routingCleanupTimeout)
	_ = store.DeleteInstanceRouting(routingCtx, s.instanceID)
	routingCancel()
	deleteSession(s.instanceID)
}

// Healthy reports whether the underlying client is connected and logged in.
func (s *Session) Healthy() bool {
	return s.client.IsConnected() && s.client.IsLoggedIn()
}

// StateOf reports the lifecycle state of an instance's session.
func StateOf(instanceID string) (ConnectionState, string, error) {
	session := getSession(instanceID)
	if session == nil {
		return "", "", ErrSessionNotFound
	}
	return session.State(), session.LastError(), nil
}

// SessionQR returns the pending QR challenge for an instance.
func SessionQR(instanceID string) (string, int, error) {
	session := getSession(instanceID)
	if session == nil {
		return "", 0, ErrSessionNotFound
	}
	return session.QR()
}

// Logout unpairs the device, drops its session blob and routing row, and
// removes the session from the registry. The session ends disconnected.
func Logout(ctx context.Context, instanceID string) error {
	session := getSession(instanceID)
	if session == nil {
		return ErrSessionNotFound
	}

	client := session.client
	if client.Store.ID != nil {
		logoutCtx, logoutCancel := context.WithTimeout(ctx, logoutRequestTimeout)
		err := client.Logout(logoutCtx)
		logoutCancel()
		if err != nil {
			client.Disconnect()
			storeCtx, storeCancel := context.WithTimeout(context.Background(), routingCleanupTimeout)
			deleteErr := client.Store.Delete(storeCtx)
			storeCancel()
			if deleteErr != nil {
				return deleteErr
			}
		}
	} else {
		client.Disconnect()
	}

	session.terminate(StateDisconnected)
	return nil
}

// Close disconnects a session without unpairing the device, so a later Open
// restores it from the stored blob. The session ends disconnected.
func Close(instanceID string) error {
	session := getSession(instanceID)
	if session == nil {
		return ErrSessionNotFound
	}
	session.client.Disconnect()
	session.setState(StateDisconnected)
	deleteSession(instanceID)
	return nil
}

// NormalizeRecipient strips a recipient identifier down to bare digits:
// server suffixes, plus signs, spaces, and separators are removed.
func NormalizeRecipient(id string) string {
	if strings.ContainsRune(id, '@') {
		id = strings.Split(id, "@")[0]
	}
	var builder strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// resolveRecipient verifies the number is registered and returns its
// canonical individual-chat JID.
func (s *Session) resolveRecipient(ctx context.Context, recipient string) (types.JID, error) {
	normalized := NormalizeRecipient(recipient)
	if normalized == "" {
		return types.EmptyJID, errors.New("recipient number is empty")
	}
	infos, err := s.client.IsOnWhatsApp(ctx, []string{"+" + normalized})
	if err != nil {
		return types.EmptyJID, err
	}
	if len(infos) == 0 || !infos[0].IsIn {
		return types.EmptyJID, ErrRecipientNotRegistered
	}
	return infos[0].JID, nil
}
