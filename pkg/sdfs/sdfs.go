// Package sdfs implements the brain's SD-card filesystem.
//
// The card firmware exposes a flat namespace: no directories, no symlinks,
// and a file is opened for either reading or writing, never both. This
// implementation keeps a whole card as one bbolt volume file, with file
// contents and metadata in separate buckets, which gives the simulator
// crash-safe card state for free.
package sdfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrExists is returned by create_new semantics when the file exists.
	ErrExists = errors.New("file already exists")

	// ErrReadWrite is returned when a file is opened for both directions.
	// The card firmware cannot do it, so neither can this model.
	ErrReadWrite = errors.New("files cannot be opened for both reading and writing")

	// ErrNoAccess is returned when an open specifies neither direction.
	ErrNoAccess = errors.New("open requires read or write access")

	// ErrNotWritable is returned when writing through a read handle.
	ErrNotWritable = errors.New("file not opened for writing")

	// ErrNotReadable is returned when reading through a write handle.
	ErrNotReadable = errors.New("file not opened for reading")

	// ErrClosed is returned when operating on a closed volume or file.
	ErrClosed = errors.New("closed")

	// ErrNameTooLong is returned for names over the firmware limit.
	ErrNameTooLong = errors.New("file name too long")
)

// MaxNameLen is the card firmware's filename limit.
const MaxNameLen = 127

// Bucket names.
var (
	bucketContent = []byte("content")
	bucketMeta    = []byte("meta")
)

// Config holds volume configuration.
type Config struct {
	// Path is the volume file on the host.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool
}

// Volume is one mounted SD card.
type Volume struct {
	db     *bolt.DB
	closed bool
}

// Mount opens (creating if needed) a card volume.
func Mount(cfg Config) (*Volume, error) {
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: time.Second,
		NoSync:  cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open volume: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketContent, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init volume: %w", err)
	}
	return &Volume{db: db}, nil
}

// Close unmounts the volume.
func (v *Volume) Close() error {
	if v.closed {
		return ErrClosed
	}
	v.closed = true
	return v.db.Close()
}

// Metadata describes one file on the card.
type Metadata struct {
	// Size is the file length in bytes.
	Size uint64

	// Modified is the last write time, unix seconds. The card clock is
	// only as good as the brain clock.
	Modified int64
}

func (m Metadata) encode() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, m.Size)
	binary.LittleEndian.PutUint64(buf[8:], uint64(m.Modified))
	return buf
}

func decodeMetadata(raw []byte) Metadata {
	var m Metadata
	if len(raw) >= 16 {
		m.Size = binary.LittleEndian.Uint64(raw)
		m.Modified = int64(binary.LittleEndian.Uint64(raw[8:]))
	}
	return m
}

func checkName(name string) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}
	return nil
}

// Exists reports whether a file is present.
func (v *Volume) Exists(name string) bool {
	if v.closed {
		return false
	}
	found := false
	v.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketContent).Get([]byte(name)) != nil
		return nil
	})
	return found
}

// Stat returns the metadata of a file.
func (v *Volume) Stat(name string) (Metadata, error) {
	if v.closed {
		return Metadata{}, ErrClosed
	}
	var m Metadata
	err := v.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get([]byte(name))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		m = decodeMetadata(raw)
		return nil
	})
	return m, err
}

// ReadFile returns the whole content of a file.
func (v *Volume) ReadFile(name string) ([]byte, error) {
	if v.closed {
		return nil, ErrClosed
	}
	var data []byte
	err := v.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketContent).Get([]byte(name))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		data = append([]byte(nil), raw...)
		return nil
	})
	return data, err
}

// WriteFile replaces the content of a file, creating it if needed.
func (v *Volume) WriteFile(name string, data []byte) error {
	if v.closed {
		return ErrClosed
	}
	if err := checkName(name); err != nil {
		return err
	}
	return v.store(name, data)
}

// Copy duplicates a file and returns the number of bytes copied.
func (v *Volume) Copy(from, to string) (uint64, error) {
	data, err := v.ReadFile(from)
	if err != nil {
		return 0, err
	}
	if err := v.WriteFile(to, data); err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

// Remove erases a file.
func (v *Volume) Remove(name string) error {
	if v.closed {
		return ErrClosed
	}
	return v.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketContent).Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err := tx.Bucket(bucketContent).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(name))
	})
}

// List returns the names of all files on the card, in key order.
func (v *Volume) List() ([]string, error) {
	if v.closed {
		return nil, ErrClosed
	}
	var names []string
	err := v.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContent).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (v *Volume) store(name string, data []byte) error {
	return v.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketContent).Put([]byte(name), data); err != nil {
			return err
		}
		m := Metadata{Size: uint64(len(data)), Modified: time.Now().Unix()}
		return tx.Bucket(bucketMeta).Put([]byte(name), m.encode())
	})
}

// OpenOptions mirror the card firmware's open flags.
type OpenOptions struct {
	read      bool
	write     bool
	append    bool
	truncate  bool
	create    bool
	createNew bool

	vol *Volume
}

// Options starts an options builder on a volume.
func (v *Volume) Options() *OpenOptions {
	return &OpenOptions{vol: v}
}

// Read sets read access.
func (o *OpenOptions) Read(yes bool) *OpenOptions { o.read = yes; return o }

// Write sets write access.
func (o *OpenOptions) Write(yes bool) *OpenOptions { o.write = yes; return o }

// Append positions every write at the end of the file. Implies write.
func (o *OpenOptions) Append(yes bool) *OpenOptions {
	o.append = yes
	if yes {
		o.write = true
	}
	return o
}

// Truncate empties the file on open. Requires write.
func (o *OpenOptions) Truncate(yes bool) *OpenOptions { o.truncate = yes; return o }

// Create creates the file if missing. Requires write.
func (o *OpenOptions) Create(yes bool) *OpenOptions { o.create = yes; return o }

// CreateNew requires that the file does not already exist. Implies Create.
func (o *OpenOptions) CreateNew(yes bool) *OpenOptions {
	o.createNew = yes
	if yes {
		o.create = true
	}
	return o
}

// Open opens the file with the accumulated options.
func (o *OpenOptions) Open(name string) (*File, error) {
	v := o.vol
	if v.closed {
		return nil, ErrClosed
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	if o.read && o.write {
		return nil, ErrReadWrite
	}
	if !o.read && !o.write {
		return nil, ErrNoAccess
	}

	exists := v.Exists(name)
	switch {
	case o.createNew && exists:
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	case !exists && (o.read || !o.create):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	f := &File{vol: v, name: name, writable: o.write}
	if exists && !o.truncate {
		data, err := v.ReadFile(name)
		if err != nil {
			return nil, err
		}
		f.buf = data
		if o.append {
			f.pos = len(data)
		}
	}
	if o.write {
		// Reserve the name immediately so a concurrent create_new sees it.
		if err := v.store(name, f.buf); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// File is an open card file. The handle buffers content in memory and
// reaches the card on Sync and Close, like the firmware's write-behind cache.
type File struct {
	vol      *Volume
	name     string
	writable bool
	buf      []byte
	pos      int
	closed   bool
}

// Open opens an existing file for reading.
func (v *Volume) Open(name string) (*File, error) {
	return v.Options().Read(true).Open(name)
}

// Create opens a file for writing, creating or truncating it.
func (v *Volume) Create(name string) (*File, error) {
	return v.Options().Write(true).Create(true).Truncate(true).Open(name)
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.writable {
		return 0, ErrNotReadable
	}
	if f.pos >= len(f.buf) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.pos:])
	f.pos += n
	return n, nil
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if !f.writable {
		return 0, ErrNotWritable
	}
	end := f.pos + len(p)
	if end > len(f.buf) {
		f.buf = append(f.buf, make([]byte, end-len(f.buf))...)
	}
	copy(f.buf[f.pos:], p)
	f.pos = end
	return len(p), nil
}

// Metadata returns the handle's view of the file.
func (f *File) Metadata() (Metadata, error) {
	if f.closed {
		return Metadata{}, ErrClosed
	}
	if f.writable {
		// Unsynced writes are visible through the handle.
		return Metadata{Size: uint64(len(f.buf)), Modified: time.Now().Unix()}, nil
	}
	return f.vol.Stat(f.name)
}

// Sync flushes buffered writes to the card.
func (f *File) Sync() error {
	if f.closed {
		return ErrClosed
	}
	if !f.writable {
		return nil
	}
	return f.vol.store(f.name, f.buf)
}

// Close flushes and releases the handle.
func (f *File) Close() error {
	if f.closed {
		return ErrClosed
	}
	if err := f.Sync(); err != nil {
		return err
	}
	f.closed = true
	return nil
}
