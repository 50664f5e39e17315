package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/chronicle/internal/engine"
)

// FormatVersion is written into every snapshot file header.
const FormatVersion = 1

// Header is the first line of a snapshot file.
type Header struct {
	Version int       `json:"version"`
	Tick    uint64    `json:"tick"`
	Seed    int64     `json:"seed"`
	SavedAt time.Time `json:"saved_at"`
}

// Encode compresses a snapshot for storage in the database.
func Encode(snap engine.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// Decode reverses Encode.
func Decode(data []byte) (engine.Snapshot, error) {
	var snap engine.Snapshot
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return snap, err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return snap, fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// SnapshotPath names the snapshot file for a tick inside dir.
func SnapshotPath(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("world-%010d.json.zst", tick))
}

// WriteSnapshot writes a zstd stream holding a JSON header line followed
// by the JSON snapshot.
func WriteSnapshot(path string, snap engine.Snapshot) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(Header{
		Version: FormatVersion,
		Tick:    snap.World.Tick,
		Seed:    snap.World.Seed,
		SavedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// ReadSnapshot reads a file written by WriteSnapshot.
func ReadSnapshot(path string) (Header, engine.Snapshot, error) {
	var (
		hdr  Header
		snap engine.Snapshot
	)
	f, err := os.Open(path)
	if err != nil {
		return hdr, snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, snap, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Version != FormatVersion {
		return hdr, snap, fmt.Errorf("snapshot version %d, want %d", hdr.Version, FormatVersion)
	}
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return hdr, snap, fmt.Errorf("json decode: %w", err)
	}
	return hdr, snap, nil
}
