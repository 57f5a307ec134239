package datavet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/golang/snappy"
)

// Statistics snapshot wire format: a 4-byte magic, a format version byte,
// then a snappy-compressed little-endian payload. The payload carries the
// dataset header followed by each feature in name order.
const (
	statsMagic        = "DVST"
	statsCodecVersion = 1

	maxDecodedFeatures = 1 << 20
	maxDecodedTokens   = 1 << 24
)

const (
	statsFlagIntValued = 1 << iota
	statsFlagOverflow
	statsFlagHistogram
	statsFlagValueCounts
)

// EncodeStatistics serializes a statistics snapshot for storage or
// transport. The encoding is deterministic: the same snapshot always
// yields the same bytes.
func EncodeStatistics(stats *DatasetStatistics) ([]byte, error) {
	if stats == nil {
		return nil, newInvalidArgumentError("EncodeStatistics", "nil statistics")
	}
	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, stats.TotalRecords())
	binary.Write(&payload, binary.LittleEndian, unixNanoOrZero(stats.GeneratedAt()))
	features := stats.Features()
	binary.Write(&payload, binary.LittleEndian, uint32(len(features)))
	for _, fs := range features {
		if err := encodeFeature(&payload, fs); err != nil {
			return nil, err
		}
	}

	compressed := snappy.Encode(nil, payload.Bytes())
	out := make([]byte, 0, len(statsMagic)+1+len(compressed))
	out = append(out, statsMagic...)
	out = append(out, statsCodecVersion)
	out = append(out, compressed...)
	return out, nil
}

func encodeFeature(buf *bytes.Buffer, fs *FeatureStatistics) error {
	writeString(buf, fs.Name)
	buf.WriteByte(byte(fs.Kind))
	binary.Write(buf, binary.LittleEndian, fs.Count)
	binary.Write(buf, binary.LittleEndian, fs.Missing)
	binary.Write(buf, binary.LittleEndian, fs.Min)
	binary.Write(buf, binary.LittleEndian, fs.Max)
	binary.Write(buf, binary.LittleEndian, fs.Sum)
	binary.Write(buf, binary.LittleEndian, fs.SumSquares)

	var flags byte
	if fs.IntValued {
		flags |= statsFlagIntValued
	}
	if fs.TrackingOverflow {
		flags |= statsFlagOverflow
	}
	if fs.Histogram != nil {
		flags |= statsFlagHistogram
	}
	if fs.ValueCounts != nil {
		flags |= statsFlagValueCounts
	}
	buf.WriteByte(flags)

	if fs.Histogram != nil {
		if err := fs.Histogram.encodeTo(buf); err != nil {
			return err
		}
	}
	if fs.ValueCounts != nil {
		tokens := make([]string, 0, len(fs.ValueCounts))
		for token := range fs.ValueCounts {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		binary.Write(buf, binary.LittleEndian, uint32(len(tokens)))
		for _, token := range tokens {
			writeString(buf, token)
			binary.Write(buf, binary.LittleEndian, fs.ValueCounts[token])
		}
	}
	return nil
}

// DecodeStatistics reverses EncodeStatistics. Truncated, mangled, or
// version-incompatible input fails with ErrCorruptSnapshot.
func DecodeStatistics(data []byte) (*DatasetStatistics, error) {
	if len(data) < len(statsMagic)+1 {
		return nil, fmt.Errorf("%w: input too short", ErrCorruptSnapshot)
	}
	if string(data[:len(statsMagic)]) != statsMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if data[len(statsMagic)] != statsCodecVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptSnapshot, data[len(statsMagic)])
	}
	payload, err := snappy.Decode(nil, data[len(statsMagic)+1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	r := bytes.NewReader(payload)
	var total, nanos int64
	if err := binary.Read(r, binary.LittleEndian, &total); err != nil {
		return nil, corrupt(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nanos); err != nil {
		return nil, corrupt(err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, corrupt(err)
	}
	if count > maxDecodedFeatures {
		return nil, fmt.Errorf("%w: feature count %d exceeds limit", ErrCorruptSnapshot, count)
	}
	features := make(map[string]*FeatureStatistics, count)
	for i := uint32(0); i < count; i++ {
		fs, err := decodeFeature(r)
		if err != nil {
			return nil, err
		}
		if _, dup := features[fs.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate feature %q", ErrCorruptSnapshot, fs.Name)
		}
		features[fs.Name] = fs
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptSnapshot, r.Len())
	}
	return newDatasetStatistics(total, timeFromUnixNano(nanos), features), nil
}

func decodeFeature(r *bytes.Reader) (*FeatureStatistics, error) {
	name, err := readString(r)
	if err != nil {
		return nil, corrupt(err)
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	kind := FeatureKind(kindByte)
	switch kind {
	case KindNumeric, KindCategoricalString, KindCategoricalInt:
	default:
		return nil, fmt.Errorf("%w: unknown feature kind %d", ErrCorruptSnapshot, kindByte)
	}
	fs := &FeatureStatistics{Name: name, Kind: kind}
	if err := binary.Read(r, binary.LittleEndian, &fs.Count); err != nil {
		return nil, corrupt(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &fs.Missing); err != nil {
		return nil, corrupt(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &fs.Min); err != nil {
		return nil, corrupt(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &fs.Max); err != nil {
		return nil, corrupt(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &fs.Sum); err != nil {
		return nil, corrupt(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &fs.SumSquares); err != nil {
		return nil, corrupt(err)
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	fs.IntValued = flags&statsFlagIntValued != 0
	fs.TrackingOverflow = flags&statsFlagOverflow != 0
	if flags&statsFlagHistogram != 0 {
		h, err := decodeHistogramFrom(r)
		if err != nil {
			return nil, corrupt(err)
		}
		fs.Histogram = h
	}
	if flags&statsFlagValueCounts != 0 {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, corrupt(err)
		}
		if n > maxDecodedTokens {
			return nil, fmt.Errorf("%w: token count %d exceeds limit", ErrCorruptSnapshot, n)
		}
		counts := make(map[string]int64, n)
		for i := uint32(0); i < n; i++ {
			token, err := readString(r)
			if err != nil {
				return nil, corrupt(err)
			}
			var c int64
			if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
				return nil, corrupt(err)
			}
			counts[token] = c
		}
		fs.ValueCounts = counts
	}
	return fs, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeFromUnixNano(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
