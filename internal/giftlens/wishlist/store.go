package wishlist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/storage"
)

var errUnknownShape = errors.New("wishlist: unrecognised persisted shape")

// Store reads and writes the wishlist record in a session slot. Read problems fall back
// to an empty record. Write problems are logged and reported to the caller.
type Store struct {
	slots         storage.Slots
	logger        *zap.Logger
	defaultBudget float64
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultBudget overrides the budget used when none was persisted.
func WithDefaultBudget(budget float64) StoreOption {
	return func(s *Store) {
		if budget >= 0 {
			s.defaultBudget = budget
		}
	}
}

// NewStore wraps slots.
func NewStore(slots storage.Slots, opts ...StoreOption) *Store {
	s := &Store{
		slots:         slots,
		logger:        zap.NewNop(),
		defaultBudget: DefaultBudget,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultBudget returns the budget an empty record starts with.
func (s *Store) DefaultBudget() float64 {
	return s.defaultBudget
}

// Load returns the persisted record, or an empty default when nothing usable is stored.
func (s *Store) Load() Record {
	record, _ := s.Lookup()
	return record
}

// Lookup is Load that also reports whether a usable record was found.
func (s *Store) Lookup() (Record, bool) {
	raw, ok, err := s.slots.Get(StorageKey)
	if err != nil {
		s.logger.Error("wishlist load failed", zap.String("key", StorageKey), zap.Error(err))
		return NewRecord(s.defaultBudget), false
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return NewRecord(s.defaultBudget), false
	}
	record, err := s.decode([]byte(raw))
	if err != nil {
		s.logger.Error("wishlist record unreadable; starting empty",
			zap.String("key", StorageKey),
			zap.Int("bytes", len(raw)),
			zap.Error(err))
		return NewRecord(s.defaultBudget), false
	}
	return record, true
}

// Save persists record. Failures such as an exceeded quota are logged and returned so
// callers can tell the visitor; the previously stored record stays in place.
func (s *Store) Save(record Record) error {
	record = record.Clone()
	record.recompute()
	raw, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("wishlist encode failed", zap.Error(err))
		return fmt.Errorf("encode wishlist: %w", err)
	}
	if err := s.slots.Set(StorageKey, string(raw)); err != nil {
		fields := []zap.Field{
			zap.String("key", StorageKey),
			zap.Int("bytes", len(raw)),
			zap.Int("items", len(record.Items)),
			zap.Error(err),
		}
		if errors.Is(err, storage.ErrQuotaExceeded) {
			s.logger.Warn("wishlist save rejected: storage quota exceeded", fields...)
		} else {
			s.logger.Error("wishlist save failed", fields...)
		}
		return fmt.Errorf("save wishlist: %w", err)
	}
	return nil
}

// Clear removes the persisted record.
func (s *Store) Clear() {
	if err := s.slots.Remove(StorageKey); err != nil {
		s.logger.Error("wishlist clear failed", zap.String("key", StorageKey), zap.Error(err))
	}
}

type recordJSON struct {
	Items  []json.RawMessage `json:"items"`
	Budget *float64          `json:"budget"`
}

func (s *Store) decode(raw []byte) (Record, error) {
	raw = bytes.TrimSpace(raw)
	var record Record
	switch raw[0] {
	case '{':
		var stored recordJSON
		if err := json.Unmarshal(raw, &stored); err != nil {
			return Record{}, fmt.Errorf("decode record: %w", err)
		}
		items, err := decodeItems(stored.Items)
		if err != nil {
			return Record{}, err
		}
		record.Items = items
		record.Budget = s.defaultBudget
		if stored.Budget != nil {
			record.Budget = *stored.Budget
		}
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return Record{}, fmt.Errorf("decode legacy list: %w", err)
		}
		items, err := decodeItems(elems)
		if err != nil {
			return Record{}, err
		}
		record.Items = items
		record.Budget = s.defaultBudget
	default:
		return Record{}, errUnknownShape
	}
	record.normalize(s.defaultBudget)
	return record, nil
}

// decodeItems accepts full item objects and bare id strings, in any mix.
func decodeItems(elems []json.RawMessage) ([]Item, error) {
	items := make([]Item, 0, len(elems))
	for _, elem := range elems {
		elem = bytes.TrimSpace(elem)
		if len(elem) == 0 {
			continue
		}
		switch elem[0] {
		case '"':
			var id string
			if err := json.Unmarshal(elem, &id); err != nil {
				return nil, fmt.Errorf("decode item id: %w", err)
			}
			items = append(items, Item{ID: strings.TrimSpace(id), Quantity: 1})
		case '{':
			var item Item
			if err := json.Unmarshal(elem, &item); err != nil {
				return nil, fmt.Errorf("decode item: %w", err)
			}
			items = append(items, item)
		case 'n':
			continue
		default:
			return nil, fmt.Errorf("%w: item %s", errUnknownShape, elem)
		}
	}
	return items, nil
}
