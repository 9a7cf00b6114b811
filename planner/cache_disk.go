package planner

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// DiskCache persists plan cache entries as a single zstd-compressed flat
// file, loaded eagerly on open and rewritten wholesale on Flush (the plan
// cache is small relative to the networks it accelerates, so a
// read-all/write-all file format is adequate; this mirrors the size of
// problem the in-memory Cache already assumes).
type DiskCache struct {
	*Cache
	path string
}

// OpenDiskCache loads path if it exists (ignoring a missing file) and
// returns a DiskCache wrapping a populated in-memory Cache.
func OpenDiskCache(path string) (*DiskCache, error) {
	dc := &DiskCache{Cache: NewCache(), path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return dc, nil
		}
		return nil, fmt.Errorf("planner: opening disk cache: %w", err)
	}
	if err := dc.load(data); err != nil {
		return nil, fmt.Errorf("planner: loading disk cache: %w", err)
	}
	return dc, nil
}

// entryRecord is the flat on-disk shape of one cache entry: hash,
// algorithm name, and the flattened step list plus total flops.
type entryRecord struct {
	Hash           uint64
	Algo           string
	TotalFlops     float64
	PeakVolumeLog2 float64
	Steps          []Step
}

func (dc *DiskCache) load(compressed []byte) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return err
	}

	r := bytes.NewReader(raw)
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		rec, err := readEntryRecord(r)
		if err != nil {
			return err
		}
		dc.Cache.entries[cacheKey{hash: rec.Hash, algo: Algorithm(rec.Algo)}] = &Plan{Steps: rec.Steps, TotalFlops: rec.TotalFlops, PeakVolumeLog2: rec.PeakVolumeLog2}
	}
	return nil
}

func readEntryRecord(r *bytes.Reader) (entryRecord, error) {
	var rec entryRecord
	if err := binary.Read(r, binary.LittleEndian, &rec.Hash); err != nil {
		return rec, err
	}
	var nameLen uint32
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return rec, err
	}
	nameBuf := make([]byte, nameLen)
	if _, err := r.Read(nameBuf); err != nil {
		return rec, err
	}
	rec.Algo = string(nameBuf)
	if err := binary.Read(r, binary.LittleEndian, &rec.TotalFlops); err != nil {
		return rec, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.PeakVolumeLog2); err != nil {
		return rec, err
	}
	var stepCount uint32
	if err := binary.Read(r, binary.LittleEndian, &stepCount); err != nil {
		return rec, err
	}
	rec.Steps = make([]Step, stepCount)
	for i := range rec.Steps {
		s := &rec.Steps[i]
		fields := []*int{&s.A, &s.B, &s.Result}
		for _, f := range fields {
			var v int64
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return rec, err
			}
			*f = int(v)
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Cost.OpenLog2); err != nil {
			return rec, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Cost.SharedLog2); err != nil {
			return rec, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Cost.IntermediateLog2); err != nil {
			return rec, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Cost.FlopsLog2); err != nil {
			return rec, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Cost.OperandALog2); err != nil {
			return rec, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Cost.OperandBLog2); err != nil {
			return rec, err
		}
		if err := binary.Read(r, binary.LittleEndian, &s.Cost.PeakLog2); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func writeEntryRecord(buf *bytes.Buffer, key cacheKey, plan *Plan) {
	binary.Write(buf, binary.LittleEndian, key.hash)
	name := string(key.algo)
	binary.Write(buf, binary.LittleEndian, uint32(len(name)))
	buf.WriteString(name)
	binary.Write(buf, binary.LittleEndian, plan.TotalFlops)
	binary.Write(buf, binary.LittleEndian, plan.PeakVolumeLog2)
	binary.Write(buf, binary.LittleEndian, uint32(len(plan.Steps)))
	for _, s := range plan.Steps {
		binary.Write(buf, binary.LittleEndian, int64(s.A))
		binary.Write(buf, binary.LittleEndian, int64(s.B))
		binary.Write(buf, binary.LittleEndian, int64(s.Result))
		binary.Write(buf, binary.LittleEndian, s.Cost.OpenLog2)
		binary.Write(buf, binary.LittleEndian, s.Cost.SharedLog2)
		binary.Write(buf, binary.LittleEndian, s.Cost.IntermediateLog2)
		binary.Write(buf, binary.LittleEndian, s.Cost.FlopsLog2)
		binary.Write(buf, binary.LittleEndian, s.Cost.OperandALog2)
		binary.Write(buf, binary.LittleEndian, s.Cost.OperandBLog2)
		binary.Write(buf, binary.LittleEndian, s.Cost.PeakLog2)
	}
}

// Flush compresses and writes the current cache contents to disk.
func (dc *DiskCache) Flush() error {
	dc.Cache.mu.RLock()
	var raw bytes.Buffer
	binary.Write(&raw, binary.LittleEndian, uint64(len(dc.Cache.entries)))
	for key, plan := range dc.Cache.entries {
		writeEntryRecord(&raw, key, plan)
	}
	dc.Cache.mu.RUnlock()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw.Bytes(), nil)

	return os.WriteFile(dc.path, compressed, 0o644)
}
