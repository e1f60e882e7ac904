// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package assetcache

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag is the first byte of every payload file. The values
// are format constants — changing them breaks every cached payload.
type CompressionTag uint8

const (
	// CompressionNone marks raw payload bytes. Used for content that
	// is already compressed (JPEG, PNG, most glTF binaries) or too
	// small to bother with.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 marks LZ4 block compression: fast decode for
	// middling ratios.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd marks zstd at the default level: the choice for
	// text-like payloads (JSON metadata, OBJ/MTL, ASCII formats).
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// compressMinSize is the payload size below which compression is never
// attempted — the probe costs more than the bytes saved.
const compressMinSize = 256

// zstdEncoder and zstdDecoder are shared across all cache instances;
// both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("assetcache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("assetcache: zstd decoder initialization failed: " + err.Error())
	}
}

var errIncompressible = errors.New("data is incompressible")

// encodePayload compresses data when worthwhile and prefixes the
// result with its compression tag. A zstd probe picks the codec: a
// ratio of 1.5x or better keeps zstd, 1.1x or better takes lz4 for the
// cheaper decode, anything less stays raw.
func encodePayload(data []byte) ([]byte, CompressionTag) {
	tag := selectCompression(data)

	var body []byte
	switch tag {
	case CompressionLZ4:
		compressed, err := compressLZ4(data)
		if err != nil {
			tag, body = CompressionNone, data
		} else {
			body = compressed
		}
	case CompressionZstd:
		body = zstdEncoder.EncodeAll(data, nil)
	default:
		body = data
	}

	encoded := make([]byte, 1+len(body))
	encoded[0] = byte(tag)
	copy(encoded[1:], body)
	return encoded, tag
}

// decodePayload reverses encodePayload. uncompressedSize comes from
// the index and must match exactly; a mismatch means the payload file
// and the index disagree and the entry cannot be trusted.
func decodePayload(stored []byte, uncompressedSize int) ([]byte, error) {
	if len(stored) < 1 {
		return nil, errors.New("payload file is empty")
	}
	tag := CompressionTag(stored[0])
	body := stored[1:]

	switch tag {
	case CompressionNone:
		if len(body) != uncompressedSize {
			return nil, fmt.Errorf("raw payload is %d bytes, index says %d",
				len(body), uncompressedSize)
		}
		return body, nil

	case CompressionLZ4:
		return decompressLZ4(body, uncompressedSize)

	case CompressionZstd:
		decoded, err := zstdDecoder.DecodeAll(body, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(decoded) != uncompressedSize {
			return nil, fmt.Errorf("zstd payload decoded to %d bytes, index says %d",
				len(decoded), uncompressedSize)
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", uint8(tag))
	}
}

// selectCompression probes data with zstd to pick a codec.
func selectCompression(data []byte) CompressionTag {
	if len(data) < compressMinSize {
		return CompressionNone
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 payload decoded to %d bytes, index says %d",
			read, uncompressedSize)
	}
	return destination, nil
}
