// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package wiremessage

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// CompressorID identifies one of the OP_COMPRESSED-negotiated wire
// compressors (spec.md §4.2: "Connection handshake negotiates... wire
// compression").
type CompressorID uint8

const (
	CompressorNoOp   CompressorID = 0
	CompressorSnappy CompressorID = 1
	CompressorZLib   CompressorID = 2
	CompressorZstd   CompressorID = 3
)

func (c CompressorID) String() string {
	switch c {
	case CompressorSnappy:
		return "snappy"
	case CompressorZLib:
		return "zlib"
	case CompressorZstd:
		return "zstd"
	default:
		return "noop"
	}
}

// CompressorIDFromName maps a negotiated compressor name (as sent in the
// hello/isMaster "compression" array) to its wire ID.
func CompressorIDFromName(name string) (CompressorID, bool) {
	switch name {
	case "snappy":
		return CompressorSnappy, true
	case "zlib":
		return CompressorZLib, true
	case "zstd":
		return CompressorZstd, true
	default:
		return 0, false
	}
}

// Compressed is a decoded OP_COMPRESSED message.
type Compressed struct {
	OriginalOpCode   OpCode
	UncompressedSize int32
	CompressorID     CompressorID
	CompressedBytes  []byte
}

// zstdEncoder/zstdDecoder are reused across calls; klauspost/compress's zstd
// encoder and decoder are both safe for concurrent use once constructed.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Compress compresses payload (the bytes of a message following its
// standard header) with the given compressor.
func Compress(compressor CompressorID, zlibLevel int, payload []byte) ([]byte, error) {
	switch compressor {
	case CompressorSnappy:
		return snappy.Encode(nil, payload), nil
	case CompressorZLib:
		var buf bytes.Buffer
		if zlibLevel == 0 {
			zlibLevel = zlib.DefaultCompression
		}
		w, err := zlib.NewWriterLevel(&buf, zlibLevel)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressorZstd:
		return zstdEncoder.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("wiremessage: unsupported compressor %d", compressor)
	}
}

// Decompress reverses Compress, given the uncompressed size advertised in
// the OP_COMPRESSED header.
func Decompress(compressor CompressorID, uncompressedSize int32, payload []byte) ([]byte, error) {
	switch compressor {
	case CompressorSnappy:
		out := make([]byte, uncompressedSize)
		return snappy.Decode(out, payload)
	case CompressorZLib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out := make([]byte, uncompressedSize)
		if _, err := io.ReadFull(r, out); err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		return out, nil
	case CompressorZstd:
		return zstdDecoder.DecodeAll(payload, make([]byte, 0, uncompressedSize))
	default:
		return nil, fmt.Errorf("wiremessage: unsupported compressor %d", compressor)
	}
}

// AppendCompressed wraps an already-serialized message (its full bytes,
// including its own 16-byte header with the correct opcode and length for
// the uncompressed form) as an OP_COMPRESSED message.
func AppendCompressed(requestID int32, compressor CompressorID, zlibLevel int, original []byte) ([]byte, error) {
	if len(original) < headerLen {
		return nil, errors.New("wiremessage: original message too short to compress")
	}
	origHeader, _, err := ReadHeader(original)
	if err != nil {
		return nil, err
	}
	uncompressedPayload := original[headerLen:]

	compressed, err := Compress(compressor, zlibLevel, uncompressedPayload)
	if err != nil {
		return nil, err
	}

	dst, lenIdx := AppendHeader(nil, requestID, 0, OpCompressed)
	var opBuf [4]byte
	binary.LittleEndian.PutUint32(opBuf[:], uint32(origHeader.OpCode))
	dst = append(dst, opBuf[:]...)

	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(uncompressedPayload)))
	dst = append(dst, sizeBuf[:]...)

	dst = append(dst, byte(compressor))
	dst = append(dst, compressed...)

	return UpdateLength(dst, lenIdx), nil
}

// ReadCompressed decodes the body of an OP_COMPRESSED message (the bytes
// following the 16-byte standard header).
func ReadCompressed(src []byte) (Compressed, error) {
	if len(src) < 9 {
		return Compressed{}, errors.New("wiremessage: malformed OP_COMPRESSED body")
	}
	c := Compressed{
		OriginalOpCode:   OpCode(binary.LittleEndian.Uint32(src[0:4])),
		UncompressedSize: int32(binary.LittleEndian.Uint32(src[4:8])),
		CompressorID:     CompressorID(src[8]),
		CompressedBytes:  src[9:],
	}
	return c, nil
}

// Decode fully decompresses a Compressed message back into the original
// message's bytes, including a freshly assembled 16-byte header.
func (c Compressed) Decode(requestID, responseTo int32) ([]byte, error) {
	payload, err := Decompress(c.CompressorID, c.UncompressedSize, c.CompressedBytes)
	if err != nil {
		return nil, err
	}
	dst, lenIdx := AppendHeader(nil, requestID, responseTo, c.OriginalOpCode)
	dst = append(dst, payload...)
	return UpdateLength(dst, lenIdx), nil
}
