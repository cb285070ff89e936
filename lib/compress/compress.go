// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress compresses session payloads (video frames,
// clipboard contents, print jobs) before they are framed.
//
// The algorithm is carried next to the payload on the wire, so the
// numeric values of [Algorithm] are protocol constants.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies how a payload was compressed.
type Algorithm uint8

const (
	// None marks a payload sent as-is.
	None Algorithm = 0

	// LZ4 is block-mode LZ4. Cheap enough for every video frame.
	LZ4 Algorithm = 1

	// Zstd is zstd at the default level. Used for text-like payloads
	// such as clipboard contents.
	Zstd Algorithm = 2
)

// MaxDecompressedSize bounds the size a peer may claim for a payload.
const MaxDecompressedSize = 64 << 20

// errIncompressible is returned internally when compression would not
// shrink the payload.
var errIncompressible = errors.New("payload is incompressible")

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Parse returns the algorithm named by name.
func Parse(name string) (Algorithm, error) {
	switch name {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// Compress compresses data with the preferred algorithm. When the
// result would not be smaller than the input, data is returned
// unchanged with None.
func Compress(data []byte, preferred Algorithm) ([]byte, Algorithm, error) {
	var (
		compressed []byte
		err        error
	)
	switch preferred {
	case None:
		return data, None, nil
	case LZ4:
		compressed, err = compressLZ4(data)
	case Zstd:
		compressed, err = compressZstd(data)
	default:
		return nil, None, fmt.Errorf("unsupported compression algorithm %s", preferred)
	}
	if errors.Is(err, errIncompressible) {
		return data, None, nil
	}
	if err != nil {
		return nil, None, err
	}
	return compressed, preferred, nil
}

// Decompress reverses Compress. size is the uncompressed length
// carried alongside the payload and must match exactly.
func Decompress(data []byte, algorithm Algorithm, size int) ([]byte, error) {
	if size < 0 || size > MaxDecompressedSize {
		return nil, fmt.Errorf("declared size %d out of range", size)
	}
	switch algorithm {
	case None:
		if len(data) != size {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match declared %d", len(data), size)
		}
		return data, nil
	case LZ4:
		return decompressLZ4(data, size)
	case Zstd:
		return decompressZstd(data, size)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %s", algorithm)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(data []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(data, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent EncodeAll and
// DecodeAll calls.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(data []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
