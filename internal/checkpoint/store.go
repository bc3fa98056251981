// Package checkpoint persists and restores the clustering state: the
// wallet-to-entity map, the output reuse counts and the height of the last
// block whose effects they include.
package checkpoint

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	klog "github.com/donutAnees/Cluster-Bitcoin-Address/internal/log"
	"github.com/donutAnees/Cluster-Bitcoin-Address/internal/storage"
)

// Key layout. Each snapshot lives under its own generation so that a
// crash mid-save never touches the snapshot the meta record points to.
var (
	prefixGeneration = []byte("g/") // g/<gen(8)>/...
	prefixWallet     = []byte("w/") // w/<wallet> -> entity id(8)
	prefixFrequency  = []byte("f/") // f/<wallet> -> count(8)
	keyMeta          = []byte("s/meta")
)

var (
	// ErrNoCheckpoint is returned by Load when nothing has been saved.
	ErrNoCheckpoint = errors.New("checkpoint: none saved")
	// ErrCorrupt is returned when a snapshot does not match its meta record.
	ErrCorrupt = errors.New("checkpoint: corrupt snapshot")
)

// Meta describes the current snapshot.
type Meta struct {
	Generation  uint64 `json:"generation"`
	Height      uint64 `json:"height"`
	Wallets     int    `json:"wallets"`
	Frequencies int    `json:"frequencies"`
	Entities    int    `json:"entities"`
	Digest      string `json:"digest"`
	SavedAt     int64  `json:"saved_at"`
	RunID       string `json:"run_id,omitempty"`
}

// Snapshot is a full copy of the clustering state at a block height.
type Snapshot struct {
	// Height is the last block whose effects the snapshot includes.
	Height      uint64
	Wallets     map[string]uint64
	Frequencies map[string]uint64
	// RunID identifies the run that wrote the snapshot. Informational.
	RunID string
}

// Entities returns the number of distinct entity ids in the snapshot.
func (s *Snapshot) Entities() int {
	ids := make(map[uint64]struct{})
	for _, id := range s.Wallets {
		ids[id] = struct{}{}
	}
	return len(ids)
}

// Store reads and writes snapshots in a storage.DB.
type Store struct {
	db     storage.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a checkpoint store over db.
func NewStore(db storage.DB) *Store {
	return &Store{
		db:     db,
		logger: klog.Checkpoint,
		now:    time.Now,
	}
}

// Meta returns the current meta record, or ErrNoCheckpoint.
func (s *Store) Meta() (*Meta, error) {
	data, err := s.db.Get(keyMeta)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint meta get: %w", err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: meta unmarshal: %w", ErrCorrupt, err)
	}
	return &m, nil
}

// Save writes snap as a new generation, switches the meta record to it
// and then drops the previous generation. The meta write is a single Put,
// so a reader sees either the old snapshot or the new one.
func (s *Store) Save(snap *Snapshot) (*Meta, error) {
	defer klog.Benchmark("checkpoint.save")()

	var gen uint64 = 1
	prev, err := s.Meta()
	switch {
	case err == nil:
		gen = prev.Generation + 1
	case errors.Is(err, ErrNoCheckpoint):
		prev = nil
	default:
		return nil, err
	}

	gdb := storage.NewPrefixDB(s.db, generationPrefix(gen))
	// A crash during an earlier save may have left a partial generation.
	if err := gdb.DeleteAll(); err != nil {
		return nil, fmt.Errorf("checkpoint clear generation %d: %w", gen, err)
	}

	wallets := sortedKeys(snap.Wallets)
	freqs := sortedKeys(snap.Frequencies)

	batch := gdb.NewBatch()
	d := newDigest()
	for _, w := range wallets {
		v := encodeUint64(snap.Wallets[w])
		if err := batch.Put(walletKey(w), v); err != nil {
			return nil, fmt.Errorf("checkpoint put wallet: %w", err)
		}
		d.add(prefixWallet, w, v)
	}
	for _, w := range freqs {
		v := encodeUint64(snap.Frequencies[w])
		if err := batch.Put(frequencyKey(w), v); err != nil {
			return nil, fmt.Errorf("checkpoint put frequency: %w", err)
		}
		d.add(prefixFrequency, w, v)
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("checkpoint commit generation %d: %w", gen, err)
	}

	meta := &Meta{
		Generation:  gen,
		Height:      snap.Height,
		Wallets:     len(wallets),
		Frequencies: len(freqs),
		Entities:    snap.Entities(),
		Digest:      d.hex(),
		SavedAt:     s.now().Unix(),
		RunID:       snap.RunID,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("checkpoint meta marshal: %w", err)
	}
	if err := s.db.Put(keyMeta, data); err != nil {
		return nil, fmt.Errorf("checkpoint meta put: %w", err)
	}

	if prev != nil {
		old := storage.NewPrefixDB(s.db, generationPrefix(prev.Generation))
		if err := old.DeleteAll(); err != nil {
			// The new snapshot is already current; stale keys only cost space.
			s.logger.Warn().Err(err).Uint64("generation", prev.Generation).Msg("Failed to drop previous checkpoint")
		}
	}

	s.logger.Info().
		Uint64("height", meta.Height).
		Uint64("generation", gen).
		Int("wallets", meta.Wallets).
		Int("entities", meta.Entities).
		Msg("Checkpoint saved")
	return meta, nil
}

// Load reads the current snapshot and verifies it against its meta record.
func (s *Store) Load() (*Snapshot, error) {
	meta, err := s.Meta()
	if err != nil {
		return nil, err
	}

	gdb := storage.NewPrefixDB(s.db, generationPrefix(meta.Generation))
	snap := &Snapshot{
		Height:      meta.Height,
		Wallets:     make(map[string]uint64, meta.Wallets),
		Frequencies: make(map[string]uint64, meta.Frequencies),
		RunID:       meta.RunID,
	}
	d := newDigest()

	load := func(prefix []byte, into map[string]uint64) error {
		return gdb.ForEach(prefix, func(key, value []byte) error {
			if len(value) != 8 {
				return fmt.Errorf("%w: value of %q is %d bytes", ErrCorrupt, key, len(value))
			}
			w := string(key[len(prefix):])
			into[w] = binary.BigEndian.Uint64(value)
			d.add(prefix, w, value)
			return nil
		})
	}
	if err := load(prefixWallet, snap.Wallets); err != nil {
		return nil, fmt.Errorf("checkpoint load wallets: %w", err)
	}
	if err := load(prefixFrequency, snap.Frequencies); err != nil {
		return nil, fmt.Errorf("checkpoint load frequencies: %w", err)
	}

	if len(snap.Wallets) != meta.Wallets || len(snap.Frequencies) != meta.Frequencies {
		return nil, fmt.Errorf("%w: generation %d has %d wallets and %d frequencies, meta says %d and %d",
			ErrCorrupt, meta.Generation, len(snap.Wallets), len(snap.Frequencies), meta.Wallets, meta.Frequencies)
	}
	if got := d.hex(); got != meta.Digest {
		return nil, fmt.Errorf("%w: digest %s, meta says %s", ErrCorrupt, got, meta.Digest)
	}
	return snap, nil
}

func generationPrefix(gen uint64) []byte {
	p := make([]byte, 0, len(prefixGeneration)+9)
	p = append(p, prefixGeneration...)
	p = binary.BigEndian.AppendUint64(p, gen)
	return append(p, '/')
}

func walletKey(w string) []byte {
	return append(append([]byte{}, prefixWallet...), w...)
}

func frequencyKey(w string) []byte {
	return append(append([]byte{}, prefixFrequency...), w...)
}

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// digest is a BLAKE3 hash over every entry in key order.
type digest struct {
	h *blake3.Hasher
}

func newDigest() *digest {
	return &digest{h: blake3.New()}
}

func (d *digest) add(prefix []byte, wallet string, value []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(wallet)))
	_, _ = d.h.Write(prefix)
	_, _ = d.h.Write(n[:])
	_, _ = d.h.Write([]byte(wallet))
	_, _ = d.h.Write(value)
}

func (d *digest) hex() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
