package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// RecordKind identifies the type of a log record.
type RecordKind uint8

const (
	// RecordAllocate logs that a shard minted a page id.
	RecordAllocate RecordKind = iota + 1
	// RecordDeallocate logs that a page id was returned to its shard.
	RecordDeallocate
	// RecordPageImage logs the full page contents prior to write-back.
	RecordPageImage
)

// Compression selects the codec applied to page image payloads.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

// Record is a decoded log record. Data is nil for allocation records.
type Record struct {
	Seq    uint64
	Kind   RecordKind
	PageID uint64
	Data   []byte
}

var (
	// ErrCorruptRecord is returned when a record fails its checksum.
	ErrCorruptRecord = errors.New("wal: corrupt record")

	errUnknownCodec = errors.New("wal: unknown compression codec")
)

// Record wire format:
//
//	payloadLen uint32
//	checksum   uint32   (CRC-32C over everything after this field)
//	seq        uint64
//	kind       uint8
//	codec      uint8
//	pageID     uint64
//	rawLen     uint32   (uncompressed payload length)
//	payload    [payloadLen]byte
const recordHeaderSize = 4 + 4 + 8 + 1 + 1 + 8 + 4

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type codecPair struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// compress applies the codec to data. It falls back to storing the raw bytes
// when compression does not shrink the payload, so decode must consult the
// per-record codec byte rather than the manager configuration.
func (c *codecPair) compress(codec Compression, data []byte) ([]byte, Compression, error) {
	switch codec {
	case CompressionNone:
		return data, CompressionNone, nil

	case CompressionZstd:
		out := c.enc.EncodeAll(data, make([]byte, 0, len(data)))
		if len(out) >= len(data) {
			return data, CompressionNone, nil
		}
		return out, CompressionZstd, nil

	case CompressionLZ4:
		out := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, out, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("wal: lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			// Incompressible.
			return data, CompressionNone, nil
		}
		return out[:n], CompressionLZ4, nil

	default:
		return nil, 0, errUnknownCodec
	}
}

func (c *codecPair) decompress(codec Compression, payload []byte, rawLen int) ([]byte, error) {
	switch codec {
	case CompressionNone:
		return payload, nil

	case CompressionZstd:
		out, err := c.dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("wal: zstd decompress: %w", err)
		}
		return out, nil

	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("wal: lz4 decompress: %w", err)
		}
		return out[:n], nil

	default:
		return nil, errUnknownCodec
	}
}

func encodeRecord(w io.Writer, c *codecPair, codec Compression, rec Record) error {
	payload := rec.Data
	rawLen := len(payload)

	if rec.Kind != RecordPageImage {
		codec = CompressionNone
	}
	payload, codec, err := c.compress(codec, payload)
	if err != nil {
		return err
	}

	buf := make([]byte, recordHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[8:16], rec.Seq)
	buf[16] = byte(rec.Kind)
	buf[17] = byte(codec)
	binary.LittleEndian.PutUint64(buf[18:26], rec.PageID)
	binary.LittleEndian.PutUint32(buf[26:30], uint32(rawLen))
	copy(buf[recordHeaderSize:], payload)
	binary.LittleEndian.PutUint32(buf[4:8], crc32.Checksum(buf[8:], castagnoli))

	_, err = w.Write(buf)
	return err
}

// decodeRecord reads one record. io.EOF means a clean end of log;
// io.ErrUnexpectedEOF means a truncated tail (torn final write).
func decodeRecord(r io.Reader, c *codecPair) (Record, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, io.ErrUnexpectedEOF
		}
		return Record{}, err
	}

	payloadLen := binary.LittleEndian.Uint32(header[0:4])
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}

	sum := crc32.Checksum(header[8:], castagnoli)
	sum = crc32.Update(sum, castagnoli, payload)
	if sum != binary.LittleEndian.Uint32(header[4:8]) {
		return Record{}, ErrCorruptRecord
	}

	rec := Record{
		Seq:    binary.LittleEndian.Uint64(header[8:16]),
		Kind:   RecordKind(header[16]),
		PageID: binary.LittleEndian.Uint64(header[18:26]),
	}
	rawLen := int(binary.LittleEndian.Uint32(header[26:30]))

	if payloadLen > 0 {
		data, err := c.decompress(Compression(header[17]), payload, rawLen)
		if err != nil {
			return Record{}, err
		}
		rec.Data = data
	}
	return rec, nil
}
