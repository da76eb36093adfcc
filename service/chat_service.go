package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/identity"
	"github.com/SphrGhfri/tabchat/internal/msglog"
	"github.com/SphrGhfri/tabchat/internal/notify"
	"github.com/SphrGhfri/tabchat/internal/presence"
	"github.com/SphrGhfri/tabchat/internal/ratelimit"
	"github.com/SphrGhfri/tabchat/internal/storage"
	"github.com/SphrGhfri/tabchat/internal/tabsync"
	"github.com/SphrGhfri/tabchat/internal/transport"
	"github.com/SphrGhfri/tabchat/pkg/logger"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultIdleNotice   = 30 * time.Minute

	welcomeText = "Welcome to the global chat! Be respectful to others."
)

// ChatService defines the interface
type ChatService interface {
	Start() error
	SendMessage(text string) (domain.ChatMessage, error)
	SetDisplayName(name string) error
	ClearLog() error
	ExportSnapshot() ([]byte, error)

	Poll() error
	Poke()

	Identity() domain.Identity
	Messages() []domain.ChatMessage
	ActiveCount() int
	ConnectionState() transport.State
	SetEnabled(enabled bool) error

	Close() error
}

// Config wires one service instance. Callbacks belong to the hosting UI
// layer; the service only hands over validated data.
type Config struct {
	KeyPrefix    string
	PollInterval time.Duration
	IdleNotice   time.Duration

	Log      msglog.Config
	Presence presence.Config
	Sync     tabsync.Config

	RateLimitMax    int
	RateLimitWindow time.Duration

	// RelayURL, when set, enables the best-effort websocket relay.
	RelayURL  string
	Transport transport.Config

	Notifier notify.Notifier
	Now      func() time.Time
	Logger   logger.Logger

	OnMessage          func(domain.ChatMessage)
	OnPresenceChange   func(count int)
	OnConnectionStatus func(state transport.State)
}

func (c *Config) fill() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "chat"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.IdleNotice <= 0 {
		c.IdleNotice = DefaultIdleNotice
	}
	if c.Notifier == nil {
		c.Notifier = notify.Noop{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = logger.NewLogger("info", "")
	}
	if c.Log.Now == nil {
		c.Log.Now = c.Now
	}
	if c.Presence.Now == nil {
		c.Presence.Now = c.Now
	}
	if c.Sync.Now == nil {
		c.Sync.Now = c.Now
	}
}

type chatService struct {
	cfg   Config
	kv    storage.KV
	log   *msglog.Log
	sync  *tabsync.Sync
	pres  *presence.Tracker
	limit ratelimit.Limiter
	ids   *identity.Store
	relay *transport.Adapter
	logg  logger.Logger

	mu           sync.Mutex
	self         domain.Identity
	enabled      bool
	enabledKey   string
	lastActivity time.Time
	lastCount    int
	wasConnected bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}
}

// NewChatService builds a service over the shared store. Start must be
// called before messages flow.
func NewChatService(kv storage.KV, cfg Config) (ChatService, error) {
	cfg.fill()

	idStore := identity.NewStore(kv, cfg.KeyPrefix)
	self, err := idStore.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	s := &chatService{
		cfg:        cfg,
		kv:         kv,
		log:        msglog.NewLog(kv, cfg.KeyPrefix, cfg.Log),
		sync:       tabsync.NewSync(kv, cfg.KeyPrefix, cfg.Sync),
		pres:       presence.NewTracker(kv, cfg.KeyPrefix, cfg.Presence),
		limit:      ratelimit.NewLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		ids:        idStore,
		logg:       cfg.Logger.WithModule("chat"),
		self:       self,
		enabledKey: cfg.KeyPrefix + ":enabled",
		wake:       make(chan struct{}, 1),
	}
	s.enabled, err = s.readEnabled()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *chatService) Start() error {
	s.mu.Lock()
	s.lastActivity = s.cfg.Now()

	added, err := s.log.Load()
	if err != nil {
		s.logg.Warnf("Snapshot load failed, starting empty: %v", err)
	}
	fresh := s.log.Len() == 0
	s.mu.Unlock()

	for _, msg := range added {
		s.fireMessage(msg)
	}
	if fresh && s.enabled {
		s.emitSystem(welcomeText, false)
	}

	if !s.enabled {
		s.logg.Infof("Chat is disabled, not starting sync loops")
		return nil
	}

	if err := s.touchPresence(); err != nil {
		s.logg.Warnf("Initial presence touch failed: %v", err)
	}

	if err := s.cfg.Notifier.Subscribe(s.Poke); err != nil {
		s.logg.Warnf("Change notifier unavailable, falling back to polling: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.pollLoop(ctx)

	if s.cfg.RelayURL != "" {
		tcfg := s.cfg.Transport
		tcfg.URL = s.cfg.RelayURL
		tcfg.SelfID = s.self.ID
		tcfg.Logger = s.cfg.Logger
		tcfg.OnMessage = s.acceptRemote
		tcfg.OnStateChange = s.onTransportState
		s.relay = transport.NewAdapter(tcfg)
		s.relay.Start(ctx)
	}

	s.logg.Infof("Started as %s (%s)", s.self.DisplayName, s.self.ID)
	return nil
}

// SendMessage validates, rate-limits, appends, persists and fans out one
// outgoing message, returning the accepted message.
func (s *chatService) SendMessage(text string) (domain.ChatMessage, error) {
	if !s.isEnabled() {
		return domain.ChatMessage{}, domain.ErrChatDisabled
	}
	body, err := domain.ValidateBody(text)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	s.mu.Lock()
	now := s.cfg.Now()
	if !s.limit.Allow(s.log, s.self.ID, now) {
		s.mu.Unlock()
		return domain.ChatMessage{}, domain.ErrRateLimited
	}

	msg := domain.ChatMessage{
		ID:         s.newMessageID(now),
		SenderID:   s.self.ID,
		SenderName: s.self.DisplayName,
		Body:       body,
		Timestamp:  now.UnixMilli(),
		Color:      domain.ColorFor(s.self.ID),
	}

	res, err := s.log.Append(msg)
	if err != nil {
		s.logg.Warnf("Message accepted but not persisted: %v", err)
	}
	s.lastActivity = now
	s.mu.Unlock()

	if !res.Accepted {
		// The id is a fresh ULID, so this is the sender+body window check
		// catching a rapid self-repeat.
		return domain.ChatMessage{}, domain.ErrDuplicateMessage
	}

	s.fireMessage(msg)

	if err := s.sync.Publish(msg); err != nil {
		s.logg.Warnf("Cross-instance publish failed: %v", err)
	}
	if err := s.cfg.Notifier.Announce(); err != nil {
		s.logg.Debugf("Change announce failed: %v", err)
	}
	if err := s.touchPresence(); err != nil {
		s.logg.Debugf("Presence touch failed: %v", err)
	}
	if s.relay != nil {
		s.relay.Send(msg)
	}
	return msg, nil
}

// SetDisplayName persists a new name and announces the rename.
func (s *chatService) SetDisplayName(name string) error {
	trimmed, err := s.ids.SetDisplayName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.self.DisplayName
	s.self.DisplayName = trimmed
	s.mu.Unlock()

	s.emitSystem(fmt.Sprintf("%s is now known as %s", old, trimmed), true)
	if err := s.touchPresence(); err != nil {
		s.logg.Debugf("Presence touch failed: %v", err)
	}
	return nil
}

// ClearLog erases the log and the shared snapshot. The hosting UI asks for
// confirmation first; this method assumes the user already said yes.
func (s *chatService) ClearLog() error {
	s.mu.Lock()
	err := s.log.Clear()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.sync.DropSlots(); err != nil {
		s.logg.Warnf("Relay slot cleanup failed: %v", err)
	}
	s.emitSystem("Chat cleared", true)
	return nil
}

// ExportSnapshot dumps the current log and identity for user download.
func (s *chatService) ExportSnapshot() ([]byte, error) {
	s.mu.Lock()
	blob := struct {
		ExportedAt string               `json:"exported_at"`
		Identity   domain.Identity      `json:"identity"`
		Messages   []domain.ChatMessage `json:"messages"`
	}{
		ExportedAt: s.cfg.Now().Format(time.RFC3339),
		Identity:   s.self,
		Messages:   s.log.Messages(),
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return data, nil
}

// Poll runs one sync cycle: pick up relay slots and the snapshot when the
// signal advanced, refresh presence, fire callbacks for anything new.
func (s *chatService) Poll() error {
	if !s.isEnabled() {
		return nil
	}

	s.mu.Lock()
	slotMsgs, changed, err := s.sync.Poll()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("sync poll failed: %w", err)
	}

	var accepted []domain.ChatMessage
	if changed {
		for _, msg := range slotMsgs {
			if !msg.Valid() {
				continue
			}
			res, err := s.log.Append(msg)
			if err != nil {
				s.logg.Warnf("Relayed message not persisted: %v", err)
			}
			if res.Accepted {
				accepted = append(accepted, msg)
			}
		}
		merged, err := s.log.Load()
		if err != nil {
			s.logg.Warnf("Snapshot reload failed: %v", err)
		}
		accepted = append(accepted, merged...)
	}
	s.mu.Unlock()

	for _, msg := range accepted {
		s.fireMessage(msg)
	}

	if err := s.pres.Refresh(); err != nil {
		s.logg.Debugf("Presence refresh failed: %v", err)
	}
	s.firePresence()
	return nil
}

// Poke requests an immediate poll, used on storage-change notifications
// and when the hosting surface regains attention.
func (s *chatService) Poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *chatService) Identity() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *chatService) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Messages()
}

func (s *chatService) ActiveCount() int {
	return s.pres.ActiveCount()
}

func (s *chatService) ConnectionState() transport.State {
	if s.relay == nil {
		return transport.StateDisconnected
	}
	return s.relay.State()
}

// SetEnabled flips the persisted kill switch. Takes effect for sends
// immediately; loops honor it on the next start.
func (s *chatService) SetEnabled(enabled bool) error {
	val := "true"
	if !enabled {
		val = "false"
	}
	if err := s.kv.Set(s.enabledKey, []byte(val)); err != nil {
		return fmt.Errorf("failed to persist enabled flag: %w", err)
	}
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	return nil
}

// Close stops the loops and removes this instance from the presence map.
// The presence removal is best effort and never blocks teardown.
func (s *chatService) Close() error {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	s.cfg.Notifier.Close()
	if err := s.pres.Remove(s.self.ID); err != nil {
		s.logg.Debugf("Presence removal on close failed: %v", err)
	}
	return nil
}

func (s *chatService) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
			s.sync.ForcePoll()
		}

		if err := s.Poll(); err != nil {
			s.logg.Warnf("Poll cycle failed: %v", err)
		}
		s.heartbeat()
	}
}

// heartbeat keeps our presence entry fresh and emits the idle keepalive
// notice after long silence.
func (s *chatService) heartbeat() {
	if err := s.touchPresence(); err != nil {
		s.logg.Debugf("Presence heartbeat failed: %v", err)
	}

	s.mu.Lock()
	now := s.cfg.Now()
	idle := now.Sub(s.lastActivity) > s.cfg.IdleNotice
	if idle {
		s.lastActivity = now
	}
	s.mu.Unlock()

	if idle {
		s.emitSystem("Chat is active", false)
	}
}

// acceptRemote handles a validated frame from the relay adapter.
func (s *chatService) acceptRemote(msg domain.ChatMessage) {
	s.mu.Lock()
	res, err := s.log.Append(msg)
	if err != nil {
		s.logg.Warnf("Remote message not persisted: %v", err)
	}
	s.mu.Unlock()

	if !res.Accepted {
		return
	}
	s.fireMessage(msg)
	// Appending rewrote the snapshot; let sibling instances reload it.
	if err := s.sync.BumpSignal(); err != nil {
		s.logg.Debugf("Signal bump failed: %v", err)
	}
}

func (s *chatService) onTransportState(state transport.State) {
	if s.cfg.OnConnectionStatus != nil {
		s.cfg.OnConnectionStatus(state)
	}

	switch state {
	case transport.StateConnected:
		s.mu.Lock()
		s.wasConnected = true
		s.mu.Unlock()
		s.emitSystem("Connected to chat", false)
	case transport.StateDisconnected:
		s.mu.Lock()
		was := s.wasConnected
		s.mu.Unlock()
		if was {
			s.emitSystem("Disconnected from chat", false)
		}
	case transport.StateFailed:
		s.emitSystem("Using local chat (no server connection)", false)
	}
}

// emitSystem appends a system notice. Propagated notices additionally bump
// the sync signal so sibling instances pick them up from the snapshot.
func (s *chatService) emitSystem(body string, propagate bool) {
	s.mu.Lock()
	now := s.cfg.Now()
	msg := domain.NewSystemMessage(s.newMessageID(now), body, now)
	res, err := s.log.Append(msg)
	if err != nil {
		s.logg.Warnf("System notice not persisted: %v", err)
	}
	s.mu.Unlock()

	if !res.Accepted {
		return
	}
	s.fireMessage(msg)
	if propagate {
		if err := s.sync.BumpSignal(); err != nil {
			s.logg.Debugf("Signal bump failed: %v", err)
		}
		if err := s.cfg.Notifier.Announce(); err != nil {
			s.logg.Debugf("Change announce failed: %v", err)
		}
	}
}

func (s *chatService) touchPresence() error {
	s.mu.Lock()
	self := s.self
	s.mu.Unlock()

	if err := s.pres.Touch(self); err != nil {
		return err
	}
	s.firePresence()
	return nil
}

func (s *chatService) firePresence() {
	count := s.pres.ActiveCount()

	s.mu.Lock()
	fire := count != s.lastCount
	s.lastCount = count
	s.mu.Unlock()

	if fire && s.cfg.OnPresenceChange != nil {
		s.cfg.OnPresenceChange(count)
	}
}

func (s *chatService) fireMessage(msg domain.ChatMessage) {
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
}

func (s *chatService) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *chatService) readEnabled() (bool, error) {
	raw, err := s.kv.Get(s.enabledKey)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read enabled flag: %w", err)
	}
	return string(raw) != "false", nil
}

func (s *chatService) newMessageID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
