package fastcgi

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Header is the fixed 8 byte prefix of every FastCGI record.
type Header struct {
	Version       uint8
	Type          uint8
	RequestID     uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

func (h *Header) init(recType recType, reqID uint16, contentLength int) {
	h.Version = version
	h.Type = uint8(recType)
	h.RequestID = reqID
	h.ContentLength = uint16(contentLength)
	//records are never padded
	h.PaddingLength = 0
	h.Reserved = 0
}

//EncodePacket frames content as a single record of the given type.
//content must not exceed 65535 bytes; larger payloads are split by the caller.
func EncodePacket(recType uint8, content []byte, requestID uint16) []byte {
	if len(content) > maxWrite {
		panic(errors.Errorf("fastcgi: record content of %d bytes exceeds %d", len(content), maxWrite))
	}

	b := make([]byte, headerLen, headerLen+len(content))
	b[0] = version
	b[1] = recType
	binary.BigEndian.PutUint16(b[2:4], requestID)
	binary.BigEndian.PutUint16(b[4:6], uint16(len(content)))

	return append(b, content...)
}

//DecodeHeader reads the six header fields from the first 8 bytes of b.
//The version is not validated.
func DecodeHeader(b []byte) (h Header, err error) {
	if len(b) < headerLen {
		return h, errors.Errorf("fastcgi: header needs %d bytes, got %d", headerLen, len(b))
	}

	err = binary.Read(bytes.NewReader(b[:headerLen]), binary.BigEndian, &h)

	return
}

//EncodePairs encodes name-value pairs as used by FCGI_PARAMS.
//Names are emitted in sorted order so the encoding is deterministic.
func EncodePairs(pairs map[string]string) []byte {
	names := make([]string, 0, len(pairs))
	for name := range pairs {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	b := make([]byte, 8)

	for _, name := range names {
		value := pairs[name]

		n := encodeSize(b, uint32(len(name)))
		n += encodeSize(b[n:], uint32(len(value)))

		buf.Write(b[:n])
		buf.WriteString(name)
		buf.WriteString(value)
	}

	return buf.Bytes()
}

//DecodePairs is the inverse of EncodePairs. A later duplicate name
//overwrites an earlier one.
func DecodePairs(b []byte) (map[string]string, error) {
	pairs := make(map[string]string)

	for len(b) > 0 {
		nameLen, n := readSize(b)
		if n == 0 {
			return nil, errors.New("fastcgi: truncated name length")
		}
		b = b[n:]

		valueLen, n := readSize(b)
		if n == 0 {
			return nil, errors.New("fastcgi: truncated value length")
		}
		b = b[n:]

		if uint64(nameLen)+uint64(valueLen) > uint64(len(b)) {
			return nil, errors.Errorf("fastcgi: pair of %d+%d bytes exceeds remaining %d", nameLen, valueLen, len(b))
		}

		name := readString(b, nameLen)
		b = b[nameLen:]
		value := readString(b, valueLen)
		b = b[valueLen:]

		pairs[name] = value
	}

	return pairs, nil
}

func readSize(s []byte) (uint32, int) {
	if len(s) == 0 {
		return 0, 0
	}

	size, n := uint32(s[0]), 1

	if size&(1<<7) != 0 {
		if len(s) < 4 {
			return 0, 0
		}

		n = 4
		size = binary.BigEndian.Uint32(s)
		size &^= 1 << 31
	}

	return size, n
}

func readString(s []byte, size uint32) string {
	if size > uint32(len(s)) {
		return ""
	}

	return string(s[:size])
}

func encodeSize(b []byte, size uint32) int {
	if size > 127 {
		size |= 1 << 31
		binary.BigEndian.PutUint32(b, size)

		return 4
	}

	b[0] = byte(size)

	return 1
}

type record struct {
	h   Header
	buf []byte
}

//read consumes exactly one record, padding included
func (rec *record) read(r io.Reader) (err error) {
	if err = binary.Read(r, binary.BigEndian, &rec.h); err != nil {
		return err
	}

	n := int(rec.h.ContentLength) + int(rec.h.PaddingLength)
	if cap(rec.buf) < n {
		rec.buf = make([]byte, n)
	}
	rec.buf = rec.buf[:n]

	if _, err = io.ReadFull(r, rec.buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}

		return err
	}

	return nil
}

func (rec *record) recType() recType {
	return recType(rec.h.Type)
}

func (rec *record) content() []byte {
	return rec.buf[:rec.h.ContentLength]
}

//requestWriter accumulates the records of one request so they reach the
//transport in a single write
type requestWriter struct {
	buf   bytes.Buffer
	reqID uint16
}

func (w *requestWriter) writeRecord(recType recType, b []byte) {
	var h Header
	h.init(recType, w.reqID, len(b))

	_ = binary.Write(&w.buf, binary.BigEndian, h)
	w.buf.Write(b)
}

func (w *requestWriter) writeBeginRequest(role uint16, flags uint8) {
	b := [8]byte{
		byte(role >> 8),
		byte(role),
		flags & 1,
	}

	w.writeRecord(typeBeginRequest, b[:])
}

//writeStream splits p into records of at most maxWrite bytes and closes the
//stream with an empty record
func (w *requestWriter) writeStream(recType recType, p []byte) {
	for len(p) > 0 {
		n := len(p)
		if n > maxWrite {
			n = maxWrite
		}

		w.writeRecord(recType, p[:n])
		p = p[n:]
	}

	w.writeRecord(recType, nil)
}

func (w *requestWriter) writeTo(dst io.Writer) (int64, error) {
	return w.buf.WriteTo(dst)
}
