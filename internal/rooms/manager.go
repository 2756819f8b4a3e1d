package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"triviarena/internal/metrics"
	"triviarena/internal/store"
	"triviarena/internal/trivia"
	"triviarena/internal/users"
)

const roomKeyPrefix = "room:"

const (
	codeAttempts     = 5
	persistAttempts  = 3
	persistBaseDelay = 100 * time.Millisecond
	persistMaxDelay  = 1 * time.Second
	updateAttempts   = 3
	updateRetryDelay = 25 * time.Millisecond
)

const (
	MinPlayers         = 2
	MaxPlayersLimit    = 8
	MinTimePerQuestion = 5
	MaxTimePerQuestion = 120
)

// errNoChange aborts an UpdateRoom commit from inside the mutator when the
// mutation turns out to be a no-op, so idempotent re-entries do not churn
// the version.
var errNoChange = errors.New("no change")

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrPlayerNotFound  = errors.New("player not in room")
	ErrRoomFull        = errors.New("room is full")
	ErrGameInProgress  = errors.New("game already in progress")
	ErrVersionConflict = errors.New("room version conflict")
	ErrInvalidConfig   = errors.New("invalid room config")
)

// ManagerConfig tunes the local cache and the store TTL for room snapshots.
type ManagerConfig struct {
	RoomTTL  time.Duration
	CacheTTL time.Duration
}

// Manager owns room creation, membership, and durable snapshotting. All
// multi-field mutations go through UpdateRoom so concurrent writers are
// serialized by the version counter rather than by arrival order.
type Manager struct {
	store store.KV
	users users.Directory
	cache *cache
	met   *metrics.Metrics
	log   *zap.Logger

	roomTTL time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now   func() time.Time
	sleep func(time.Duration)
}

func NewManager(kv store.KV, dir users.Directory, cfg ManagerConfig, met *metrics.Metrics, log *zap.Logger) *Manager {
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = 2 * time.Hour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	m := &Manager{
		store:   kv,
		users:   dir,
		cache:   newCache(cfg.CacheTTL),
		met:     met,
		log:     log,
		roomTTL: cfg.RoomTTL,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
		sleep:   time.Sleep,
	}
	go m.sweepCache()
	return m
}

// MapDifficulty converts the difficulty tag to its numeric scale.
func MapDifficulty(difficulty string) int {
	switch difficulty {
	case "easy":
		return 1
	case "hard":
		return 3
	default:
		return 2
	}
}

func validateConfig(cfg *Config) error {
	if cfg.MaxPlayers < MinPlayers || cfg.MaxPlayers > MaxPlayersLimit {
		return fmt.Errorf("%w: maxPlayers must be between %d and %d", ErrInvalidConfig, MinPlayers, MaxPlayersLimit)
	}
	if cfg.QuestionCount < 0 || cfg.QuestionCount > trivia.MaxBatch {
		return fmt.Errorf("%w: questionCount must be between 0 and %d", ErrInvalidConfig, trivia.MaxBatch)
	}
	if cfg.TimePerQuestion < MinTimePerQuestion || cfg.TimePerQuestion > MaxTimePerQuestion {
		return fmt.Errorf("%w: timePerQuestion must be between %d and %d seconds", ErrInvalidConfig, MinTimePerQuestion, MaxTimePerQuestion)
	}
	if cfg.Difficulty == "" {
		cfg.Difficulty = "medium"
	}
	if cfg.MappedDifficulty == 0 {
		cfg.MappedDifficulty = MapDifficulty(cfg.Difficulty)
	}
	return nil
}

// CreateRoom validates the config, generates a unique short code, seats the
// host, and persists the new room.
func (m *Manager) CreateRoom(ctx context.Context, hostID string, cfg Config) (*Room, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	id, err := m.uniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	host := m.seatPlayer(ctx, hostID)
	host.IsHost = true

	now := m.now()
	room := &Room{
		ID:            id,
		HostID:        hostID,
		Players:       []*Player{host},
		Config:        cfg,
		Status:        StatusWaiting,
		QuestionState: QuestionIdle,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.persistSnapshot(ctx, room); err != nil {
		return nil, err
	}

	m.met.RoomsCreated.Inc()
	m.log.Info("room created", zap.String("room", id), zap.String("host", hostID))
	return room, nil
}

// uniqueCode tries the short generator against the local cache and the
// store a few times, then falls back to a code unique by construction.
func (m *Manager) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := GenerateCode()
		if err != nil {
			return "", fmt.Errorf("generating room code: %w", err)
		}
		if _, ok := m.cache.getStale(code); ok {
			continue
		}
		if _, err := m.store.Get(ctx, roomKeyPrefix+code); err == nil {
			continue
		}
		return code, nil
	}
	m.log.Warn("short room codes kept colliding, using fallback generator")
	return FallbackCode(), nil
}

func (m *Manager) seatPlayer(ctx context.Context, userID string) *Player {
	profile, err := m.users.Lookup(ctx, userID)
	if err != nil {
		m.log.Warn("user directory lookup failed, seating as guest",
			zap.String("user", userID), zap.Error(err))
		profile = users.Profile{UserID: userID, Name: "Player-" + shortID(userID)}
	}
	return &Player{
		UserID: userID,
		Name:   profile.Name,
		Email:  profile.Email,
		Status: PlayerWaiting,
	}
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}

// GetRoom reads through the local cache. When the store is unreachable it
// degrades to the cache even past its TTL rather than failing the read.
func (m *Manager) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	if room, ok := m.cache.get(roomID); ok {
		return room, nil
	}
	room, err := m.fetchFresh(ctx, roomID)
	if err == nil {
		return room, nil
	}
	if errors.Is(err, ErrRoomNotFound) {
		return nil, err
	}
	if stale, ok := m.cache.getStale(roomID); ok {
		m.log.Warn("store read failed, serving stale cached room",
			zap.String("room", roomID), zap.Error(err))
		return stale, nil
	}
	return nil, err
}

// fetchFresh bypasses the cache. Used by the update path, which must never
// build on stale state.
func (m *Manager) fetchFresh(ctx context.Context, roomID string) (*Room, error) {
	data, err := m.store.Get(ctx, roomKeyPrefix+roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		m.met.StoreFailures.Inc()
		return nil, fmt.Errorf("reading room %s: %w", roomID, err)
	}
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("decoding room %s: %w", roomID, err)
	}
	m.cache.set(&room)
	return &room, nil
}

// JoinRoom seats a new player, or returns current state unchanged for a
// player who is already seated (reconnects re-enter here). A rejoin by a
// still-connected player commits nothing: the version only moves when the
// room actually changed.
func (m *Manager) JoinRoom(ctx context.Context, roomID, userID string) (*Room, error) {
	var unchanged *Room
	room, err := m.UpdateRoom(ctx, roomID, func(room *Room) error {
		if p := room.Player(userID); p != nil {
			if p.Status != PlayerDisconnected {
				unchanged = room
				return errNoChange
			}
			if room.Status == StatusPlaying {
				p.Status = PlayerPlaying
			} else {
				p.Status = PlayerWaiting
			}
			return nil
		}
		if room.Status != StatusWaiting {
			return ErrGameInProgress
		}
		if len(room.Players) >= room.Config.MaxPlayers {
			return ErrRoomFull
		}
		room.Players = append(room.Players, m.seatPlayer(ctx, userID))
		return nil
	})
	if errors.Is(err, errNoChange) {
		return unchanged, nil
	}
	return room, err
}

// LeaveRoom removes or disconnects the player. The room is deleted when the
// host abandons it before the game starts or when nobody is left; the
// returned room is nil in that case.
func (m *Manager) LeaveRoom(ctx context.Context, roomID, userID string) (*Room, error) {
	current, err := m.fetchFresh(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if current.Player(userID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, userID)
	}

	if current.Status == StatusWaiting && current.HostID == userID {
		if err := m.DeleteRoom(ctx, roomID); err != nil {
			return nil, err
		}
		m.log.Info("host left waiting room, room deleted",
			zap.String("room", roomID), zap.String("host", userID))
		return nil, nil
	}

	room, err := m.UpdateRoom(ctx, roomID, func(room *Room) error {
		p := room.Player(userID)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrPlayerNotFound, userID)
		}
		wasHost := p.IsHost

		if room.Status == StatusWaiting {
			kept := room.Players[:0]
			for _, seated := range room.Players {
				if seated.UserID != userID {
					kept = append(kept, seated)
				}
			}
			room.Players = kept
		} else {
			p.IsHost = false
			p.Status = PlayerDisconnected
		}

		if wasHost {
			for _, next := range room.Players {
				if next.UserID != userID && next.Status != PlayerDisconnected {
					next.IsHost = true
					room.HostID = next.UserID
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(room.Players) == 0 {
		if err := m.DeleteRoom(ctx, roomID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return room, nil
}

// UpdateRoom is the optimistic-concurrency entry point. The mutation is
// applied to freshly read state and committed only if the persisted version
// is still the one that was read; otherwise it retries against fresh state.
// A rejected mutation changes nothing.
func (m *Manager) UpdateRoom(ctx context.Context, roomID string, mutate func(*Room) error) (*Room, error) {
	for attempt := 1; attempt <= updateAttempts; attempt++ {
		fresh, err := m.fetchFresh(ctx, roomID)
		if err != nil {
			return nil, err
		}
		next := fresh.Clone()
		if err := mutate(next); err != nil {
			return nil, err
		}
		next.Version = fresh.Version + 1
		next.UpdatedAt = m.now()

		committed, err := m.commit(ctx, next, fresh.Version)
		if err != nil {
			return nil, err
		}
		if committed {
			return next, nil
		}

		m.met.VersionConflicts.Inc()
		m.log.Warn("room version conflict, retrying",
			zap.String("room", roomID),
			zap.Int64("expected", fresh.Version),
			zap.Int("attempt", attempt))
		m.sleep(updateRetryDelay * time.Duration(attempt))
	}
	return nil, fmt.Errorf("%w: room %s after %d attempts", ErrVersionConflict, roomID, updateAttempts)
}

// commit writes the snapshot only if the persisted version still matches
// what the caller read. The per-room lock makes check-then-write atomic
// within this process; across processes the version compare is best effort.
func (m *Manager) commit(ctx context.Context, room *Room, expected int64) (bool, error) {
	lock := m.roomLock(room.ID)
	lock.Lock()
	defer lock.Unlock()

	data, err := m.store.Get(ctx, roomKeyPrefix+room.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("%w: %s", ErrRoomNotFound, room.ID)
	case err != nil:
		m.met.StoreFailures.Inc()
		return false, fmt.Errorf("reading room %s before commit: %w", room.ID, err)
	}
	var current Room
	if err := json.Unmarshal(data, &current); err != nil {
		return false, fmt.Errorf("decoding room %s: %w", room.ID, err)
	}
	if current.Version != expected {
		return false, nil
	}
	if err := m.persistSnapshot(ctx, room); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) roomLock(roomID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[roomID] = lock
	}
	return lock
}

// UpdateRoomStatus flips the room phase and stamps the lifecycle timestamps.
// The local cache is invalidated first so a read right after the flip never
// observes the old phase.
func (m *Manager) UpdateRoomStatus(ctx context.Context, roomID string, status Status) (*Room, error) {
	m.cache.remove(roomID)
	return m.UpdateRoom(ctx, roomID, func(room *Room) error {
		room.Status = status
		now := m.now()
		switch status {
		case StatusPlaying:
			room.StartTime = &now
		case StatusFinished, StatusCancelled:
			room.EndTime = &now
		}
		return nil
	})
}

// FindRoomsByUser returns the live rooms the user is seated in. Used for
// reconnection. When listing store keys fails, the local cache stands in so
// a just-created room is still discoverable.
func (m *Manager) FindRoomsByUser(ctx context.Context, userID string) []*Room {
	ids := make(map[string]struct{})
	keys, err := m.store.ListKeys(ctx, roomKeyPrefix)
	if err != nil {
		m.met.StoreFailures.Inc()
		m.log.Warn("listing room keys failed, falling back to local cache", zap.Error(err))
	} else {
		for _, k := range keys {
			ids[k[len(roomKeyPrefix):]] = struct{}{}
		}
	}
	for _, id := range m.cache.roomIDs() {
		ids[id] = struct{}{}
	}

	var found []*Room
	for id := range ids {
		room, err := m.GetRoom(ctx, id)
		if err != nil {
			continue
		}
		if room.Status != StatusWaiting && room.Status != StatusPlaying {
			continue
		}
		if room.Player(userID) != nil {
			found = append(found, room)
		}
	}
	return found
}

func (m *Manager) DeleteRoom(ctx context.Context, roomID string) error {
	m.cache.remove(roomID)
	if err := m.store.Delete(ctx, roomKeyPrefix+roomID); err != nil {
		m.met.StoreFailures.Inc()
		return fmt.Errorf("deleting room %s: %w", roomID, err)
	}
	return nil
}

// persistSnapshot updates the cache unconditionally, then writes the store
// with exponential backoff. Exhausting the retries surfaces the error: other
// processes must observe this state, so a cache-only write is a failure.
func (m *Manager) persistSnapshot(ctx context.Context, room *Room) error {
	m.cache.set(room)

	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encoding room %s: %w", room.ID, err)
	}

	delay := persistBaseDelay
	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		lastErr = m.store.Set(ctx, roomKeyPrefix+room.ID, data, m.roomTTL)
		if lastErr == nil {
			return nil
		}
		m.met.StoreFailures.Inc()
		m.log.Warn("persisting room snapshot failed",
			zap.String("room", room.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < persistAttempts {
			m.sleep(delay)
			delay *= 2
			if delay > persistMaxDelay {
				delay = persistMaxDelay
			}
		}
	}
	return fmt.Errorf("persisting room %s after %d attempts: %w", room.ID, persistAttempts, lastErr)
}

func (m *Manager) sweepCache() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m.cache.sweepStale(5 * time.Minute)
		m.met.ActiveRooms.Set(float64(len(m.cache.roomIDs())))
	}
}
