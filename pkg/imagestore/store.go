// Package imagestore provides the upload tool's program-image storage.
//
// The brain exposes eight program slots. For each slot the store keeps the
// last uploaded image, its blake3 fingerprint, and upload metadata, so the
// next upload of a rebuild can ship an incremental patch against the stored
// base instead of the full image. Storage is BadgerDB: images run to
// megabytes and Badger keeps large values out of the LSM tree.
package imagestore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/torquelabs/brainstem/internal/types"
	"github.com/torquelabs/brainstem/pkg/patch"
)

var (
	// ErrSlotEmpty is returned when a slot holds no image.
	ErrSlotEmpty = errors.New("program slot is empty")

	// ErrImageTooLarge is returned for images over the link-time maximum.
	ErrImageTooLarge = errors.New("image exceeds maximum program size")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("image store closed")
)

// Key prefixes.
var (
	// prefixImage + slot byte -> raw image bytes.
	prefixImage = []byte{0x01}

	// prefixInfo + slot byte -> gob-encoded Info.
	prefixInfo = []byte{0x02}
)

// Config holds store configuration.
type Config struct {
	// Dir is the Badger database directory.
	Dir string

	// InMemory runs the store in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool
}

// DefaultConfig returns default configuration.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, SyncWrites: true}
}

// Info describes one stored image.
type Info struct {
	// Slot is the program slot the image was uploaded to.
	Slot types.Slot

	// Name is the program name shown in slot listings.
	Name string

	// Fingerprint is the blake3 digest of the image bytes.
	Fingerprint types.Fingerprint

	// Size is the image length in bytes.
	Size uint32

	// UploadedAt is the upload time, unix seconds.
	UploadedAt int64
}

// Store is the per-host image store.
type Store struct {
	db     *badger.DB
	closed bool
}

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the store.
func (s *Store) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

func imageKey(slot types.Slot) []byte {
	return append(append([]byte(nil), prefixImage...), byte(slot))
}

func infoKey(slot types.Slot) []byte {
	return append(append([]byte(nil), prefixInfo...), byte(slot))
}

// Put stores an image into a slot, replacing any previous one.
func (s *Store) Put(slot types.Slot, name string, image []byte) (Info, error) {
	if s.closed {
		return Info{}, ErrClosed
	}
	if _, err := types.SlotFromInt(int(slot)); err != nil {
		return Info{}, err
	}
	if uint32(len(image)) > types.ImageMaxSize {
		return Info{}, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(image))
	}

	info := Info{
		Slot:        slot,
		Name:        name,
		Fingerprint: types.FingerprintOf(image),
		Size:        uint32(len(image)),
		UploadedAt:  time.Now().Unix(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(info); err != nil {
		return Info{}, fmt.Errorf("encode info: %w", err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(imageKey(slot), image); err != nil {
			return err
		}
		return txn.Set(infoKey(slot), buf.Bytes())
	})
	if err != nil {
		return Info{}, fmt.Errorf("store image: %w", err)
	}
	return info, nil
}

// Get returns the image bytes and metadata for a slot.
func (s *Store) Get(slot types.Slot) ([]byte, Info, error) {
	if s.closed {
		return nil, Info{}, ErrClosed
	}
	var (
		image []byte
		info  Info
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(imageKey(slot))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrSlotEmpty, slot)
		}
		if err != nil {
			return err
		}
		image, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}

		item, err = txn.Get(infoKey(slot))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&info)
		})
	})
	if err != nil {
		return nil, Info{}, err
	}
	return image, info, nil
}

// InfoFor returns the metadata for a slot without the image bytes.
func (s *Store) InfoFor(slot types.Slot) (Info, error) {
	if s.closed {
		return Info{}, ErrClosed
	}
	var info Info
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(infoKey(slot))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrSlotEmpty, slot)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&info)
		})
	})
	return info, err
}

// List returns metadata for every occupied slot, in slot order.
func (s *Store) List() ([]Info, error) {
	if s.closed {
		return nil, ErrClosed
	}
	var out []Info
	for n := 1; n <= types.SlotCount; n++ {
		info, err := s.InfoFor(types.Slot(n))
		if errors.Is(err, ErrSlotEmpty) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Remove clears a slot.
func (s *Store) Remove(slot types.Slot) error {
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(imageKey(slot)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrSlotEmpty, slot)
		} else if err != nil {
			return err
		}
		if err := txn.Delete(imageKey(slot)); err != nil {
			return err
		}
		return txn.Delete(infoKey(slot))
	})
}

// BuildPatch computes the incremental payload that upgrades the stored base
// image in a slot to next, together with the descriptor the upload tool
// writes into brain memory. The staging protocol on the brain reads only
// the descriptor; the payload rides behind it in the patch region.
func (s *Store) BuildPatch(slot types.Slot, next []byte) ([]byte, patch.Descriptor, error) {
	base, _, err := s.Get(slot)
	if err != nil {
		return nil, patch.Descriptor{}, err
	}

	payload, err := patch.BuildPayload(base, next)
	if err != nil {
		return nil, patch.Descriptor{}, fmt.Errorf("build payload: %w", err)
	}
	if uint32(len(payload)) > types.PatchMaxSize-types.PatchHeaderSize {
		// A diff bigger than the patch region means the rebuild shares
		// almost nothing with the base; a full upload is the answer.
		return nil, patch.Descriptor{}, fmt.Errorf("%w: %d bytes",
			patch.ErrPayloadTooLarge, len(payload))
	}

	desc := patch.Descriptor{
		Magic:      types.PatchMagic,
		Version:    types.PatchVersion,
		PayloadLen: uint32(len(payload)),
		BaseLen:    uint32(len(base)),
	}
	return payload, desc, nil
}
