// Package lending persists checkpoints of protocol state. A checkpoint holds
// the auditor and every market snapshot taken at one instant of a run.
package lending

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"fixedlend/native/lending/auditor"
	"fixedlend/native/lending/market"
	"fixedlend/storage"
)

var checkpointPrefix = []byte("lending/checkpoint/")

// ErrNoCheckpoint is returned when a run has no checkpoint at the requested
// step.
var ErrNoCheckpoint = errors.New("lending store: no checkpoint")

// Checkpoint is the protocol state at Timestamp after Step steps of a run.
type Checkpoint struct {
	Step      uint64
	Timestamp uint64
	Auditor   auditor.Snapshot
	Markets   []market.Snapshot
}

// Capture snapshots a and its listed markets.
func Capture(step, timestamp uint64, a *auditor.Auditor) Checkpoint {
	cp := Checkpoint{Step: step, Timestamp: timestamp, Auditor: a.Snapshot()}
	for _, m := range a.Markets() {
		cp.Markets = append(cp.Markets, m.Snapshot())
	}
	return cp
}

// Apply restores cp into a and the markets listed in it. The markets must
// have been listed again in the same order.
func Apply(cp Checkpoint, a *auditor.Auditor) error {
	for _, snap := range cp.Markets {
		m, ok := a.Market(snap.Symbol)
		if !ok {
			return fmt.Errorf("checkpoint market %s is not listed", snap.Symbol)
		}
		if err := m.Restore(snap); err != nil {
			return err
		}
	}
	return a.Restore(cp.Auditor)
}

type Store struct {
	db storage.Database
	mu sync.RWMutex
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func runPrefix(run string) []byte {
	return append(append([]byte{}, checkpointPrefix...), []byte(strings.TrimSpace(run)+"/")...)
}

func checkpointKey(run string, step uint64) []byte {
	return binary.BigEndian.AppendUint64(runPrefix(run), step)
}

// Save writes cp under run, replacing a checkpoint at the same step.
func (s *Store) Save(run string, cp Checkpoint) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("lending store not initialised")
	}
	if strings.TrimSpace(run) == "" {
		return fmt.Errorf("lending store: run id required")
	}
	encoded, err := rlp.EncodeToBytes(&cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %d: %w", cp.Step, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(checkpointKey(run, cp.Step), encoded)
}

// Load reads the checkpoint of run at step.
func (s *Store) Load(run string, step uint64) (Checkpoint, error) {
	if s == nil || s.db == nil {
		return Checkpoint{}, fmt.Errorf("lending store not initialised")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(checkpointKey(run, step))
}

func (s *Store) load(key []byte) (Checkpoint, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := rlp.DecodeBytes(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// Steps lists the checkpointed steps of run in ascending order.
func (s *Store) Steps(run string) ([]uint64, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("lending store not initialised")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := runPrefix(run)
	keys, err := s.db.Keys(prefix)
	if err != nil {
		return nil, err
	}
	steps := make([]uint64, 0, len(keys))
	for _, key := range keys {
		suffix := key[len(prefix):]
		if len(suffix) != 8 {
			continue
		}
		steps = append(steps, binary.BigEndian.Uint64(suffix))
	}
	return steps, nil
}

// Latest reads the highest checkpointed step of run.
func (s *Store) Latest(run string) (Checkpoint, error) {
	steps, err := s.Steps(run)
	if err != nil {
		return Checkpoint{}, err
	}
	if len(steps) == 0 {
		return Checkpoint{}, ErrNoCheckpoint
	}
	return s.Load(run, steps[len(steps)-1])
}
