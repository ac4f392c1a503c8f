package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cadence/internal/program"
	"github.com/MarcoPoloResearchLab/cadence/internal/workout"
)

// Key prefixes per record family. Values are JSON-encoded records; list
// operations are prefix scans, so the key layout embeds whatever ordering a
// scan must honor (creation time for log entries, enqueue sequence for the
// outbound queue).
const (
	sessionKeyPrefix  = "session:"
	entryKeyPrefix    = "entry:"
	templateKeyPrefix = "template:"
	exerciseKeyPrefix = "exercise:"
	queueKeyPrefix    = "queue:"

	outboundSequenceKey = "seq:outbound"
)

// kvStore is the flat key-value fallback backend, built on Badger. Compared
// to the structured backend it only supports exact-key lookups plus prefix
// scans; it offers no additional durability guarantee over SQLite.
type kvStore struct {
	db       *badger.DB
	queueSeq *badger.Sequence
	logger   *zap.Logger
}

// OpenKV opens the key-value backend at the provided directory path.
func OpenKV(path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("key-value path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	options := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		return nil, err
	}

	queueSeq, err := db.GetSequence([]byte(outboundSequenceKey), 64)
	if err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			logger.Warn("closing key-value store after sequence failure", zap.Error(closeErr))
		}
		return nil, err
	}

	logger.Info("key-value store initialized", zap.String("path", path))

	return &kvStore{db: db, queueSeq: queueSeq, logger: logger}, nil
}

func (s *kvStore) PutSession(_ context.Context, session *workout.Session) error {
	return s.putJSON(sessionKeyPrefix+session.SessionID, session)
}

func (s *kvStore) SessionByID(_ context.Context, sessionID string) (*workout.Session, error) {
	var session workout.Session
	if err := s.getJSON(sessionKeyPrefix+sessionID, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *kvStore) ActiveSession(_ context.Context) (*workout.Session, error) {
	var newest *workout.Session
	err := s.scanPrefix(sessionKeyPrefix, func(value []byte) error {
		var session workout.Session
		if err := json.Unmarshal(value, &session); err != nil {
			return err
		}
		if session.Status != workout.SessionStatusActive {
			return nil
		}
		if newest == nil || session.StartedAtSeconds > newest.StartedAtSeconds {
			copied := session
			newest = &copied
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

func (s *kvStore) AppendLogEntry(_ context.Context, entry *workout.LogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s:%020d:%s", entryKeyPrefix, entry.SessionID, entry.CreatedAtSeconds, entry.EntryID)
	return s.putJSON(key, entry)
}

func (s *kvStore) LogEntries(_ context.Context, sessionID string) ([]workout.LogEntry, error) {
	entries := make([]workout.LogEntry, 0)
	err := s.scanPrefix(entryKeyPrefix+sessionID+":", func(value []byte) error {
		var entry workout.LogEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *kvStore) UpsertTemplate(_ context.Context, template *program.Template, exercises []program.Exercise) error {
	return s.db.Update(func(txn *badger.Txn) error {
		templateValue, err := json.Marshal(template)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(templateKeyPrefix+template.TemplateID), templateValue); err != nil {
			return err
		}
		for index := range exercises {
			exercise := exercises[index]
			exerciseValue, err := json.Marshal(&exercise)
			if err != nil {
				return err
			}
			key := exerciseKeyPrefix + exercise.TemplateID + ":" + exercise.ExerciseID
			if err := txn.Set([]byte(key), exerciseValue); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *kvStore) UpsertExercise(_ context.Context, exercise *program.Exercise) error {
	key := exerciseKeyPrefix + exercise.TemplateID + ":" + exercise.ExerciseID
	return s.putJSON(key, exercise)
}

func (s *kvStore) TemplateByID(_ context.Context, templateID string) (*program.Template, error) {
	var template program.Template
	if err := s.getJSON(templateKeyPrefix+templateID, &template); err != nil {
		return nil, err
	}
	return &template, nil
}

func (s *kvStore) Templates(_ context.Context) ([]program.Template, error) {
	templates := make([]program.Template, 0)
	err := s.scanPrefix(templateKeyPrefix, func(value []byte) error {
		var template program.Template
		if err := json.Unmarshal(value, &template); err != nil {
			return err
		}
		templates = append(templates, template)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(templates, func(i, j int) bool {
		if templates[i].Name != templates[j].Name {
			return templates[i].Name < templates[j].Name
		}
		return templates[i].TemplateID < templates[j].TemplateID
	})
	return templates, nil
}

func (s *kvStore) TemplateExercises(_ context.Context, templateID string) ([]program.Exercise, error) {
	exercises := make([]program.Exercise, 0)
	err := s.scanPrefix(exerciseKeyPrefix+templateID+":", func(value []byte) error {
		var exercise program.Exercise
		if err := json.Unmarshal(value, &exercise); err != nil {
			return err
		}
		exercises = append(exercises, exercise)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(exercises, func(i, j int) bool {
		if exercises[i].OrderIndex != exercises[j].OrderIndex {
			return exercises[i].OrderIndex < exercises[j].OrderIndex
		}
		return exercises[i].ExerciseID < exercises[j].ExerciseID
	})
	return exercises, nil
}

func (s *kvStore) EnqueueOutbound(_ context.Context, item *OutboundItem) error {
	seq, err := s.queueSeq.Next()
	if err != nil {
		return err
	}
	item.Seq = seq
	return s.putJSON(queueKey(seq), item)
}

func (s *kvStore) PendingOutbound(_ context.Context) ([]OutboundItem, error) {
	items := make([]OutboundItem, 0)
	err := s.scanPrefix(queueKeyPrefix, func(value []byte) error {
		var item OutboundItem
		if err := json.Unmarshal(value, &item); err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *kvStore) MarkOutboundAttempt(_ context.Context, seq uint64, at time.Time) error {
	var item OutboundItem
	if err := s.getJSON(queueKey(seq), &item); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	item.LastAttemptSeconds = at.UTC().Unix()
	return s.putJSON(queueKey(seq), &item)
}

func (s *kvStore) DeleteOutbound(_ context.Context, seq uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(queueKey(seq)))
	})
}

func (s *kvStore) Close() error {
	if err := s.queueSeq.Release(); err != nil {
		s.logger.Warn("releasing outbound sequence", zap.Error(err))
	}
	return s.db.Close()
}

func queueKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", queueKeyPrefix, seq)
}

func (s *kvStore) putJSON(key string, record any) error {
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *kvStore) getJSON(key string, record any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// scanPrefix visits values in key order, which the key layout turns into the
// ordering each record family requires.
func (s *kvStore) scanPrefix(prefix string, visit func(value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = []byte(prefix)
		iterator := txn.NewIterator(options)
		defer iterator.Close()
		for iterator.Rewind(); iterator.Valid(); iterator.Next() {
			err := iterator.Item().Value(func(value []byte) error {
				return visit(value)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
