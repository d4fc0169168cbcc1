package storage

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/vjranagit/sampleby/pkg/types"
)

// Compressor encodes blocks of samples: delta-of-delta varint timestamps and
// XOR-ed float bits, compressed with zstd.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor. level ranges from 1 (fastest) to 4
// (best compression).
func NewCompressor(level int) (*Compressor, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create encoder")
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, errors.Wrap(err, "failed to create decoder")
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// EncodeBlock encodes samples, which must be sorted by timestamp.
func (c *Compressor) EncodeBlock(samples []types.Sample) []byte {
	buf := make([]byte, 0, 2+len(samples)*4)
	buf = binary.AppendUvarint(buf, uint64(len(samples)))
	if len(samples) == 0 {
		return c.encoder.EncodeAll(buf, nil)
	}

	buf = binary.AppendVarint(buf, samples[0].Timestamp)
	var prevDelta int64
	for i := 1; i < len(samples); i++ {
		delta := samples[i].Timestamp - samples[i-1].Timestamp
		buf = binary.AppendVarint(buf, delta-prevDelta)
		prevDelta = delta
	}

	prevBits := math.Float64bits(samples[0].Value)
	buf = binary.LittleEndian.AppendUint64(buf, prevBits)
	for i := 1; i < len(samples); i++ {
		bits := math.Float64bits(samples[i].Value)
		buf = binary.AppendUvarint(buf, bits^prevBits)
		prevBits = bits
	}

	return c.encoder.EncodeAll(buf, make([]byte, 0, len(buf)/2))
}

// DecodeBlock is the inverse of EncodeBlock.
func (c *Compressor) DecodeBlock(data []byte) ([]types.Sample, error) {
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompression failed")
	}

	r := &blockReader{buf: raw}
	count := r.uvarint()
	if r.err != nil {
		return nil, r.err
	}
	// Every sample takes at least one byte.
	if count > uint64(len(raw)) {
		return nil, errors.Newf("corrupt block: %d samples in %d bytes", count, len(raw))
	}
	if count == 0 {
		return nil, nil
	}

	samples := make([]types.Sample, count)
	samples[0].Timestamp = r.varint()
	var prevDelta int64
	for i := 1; i < len(samples); i++ {
		delta := prevDelta + r.varint()
		samples[i].Timestamp = samples[i-1].Timestamp + delta
		prevDelta = delta
	}

	prevBits := r.uint64()
	samples[0].Value = math.Float64frombits(prevBits)
	for i := 1; i < len(samples); i++ {
		prevBits ^= r.uvarint()
		samples[i].Value = math.Float64frombits(prevBits)
	}

	if r.err != nil {
		return nil, r.err
	}
	return samples, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

var errCorruptBlock = errors.New("corrupt block")

// blockReader reads varints and remembers the first error.
type blockReader struct {
	buf []byte
	err error
}

func (r *blockReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = errCorruptBlock
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *blockReader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.err = errCorruptBlock
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *blockReader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.err = errCorruptBlock
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}
