// Package loader reads executable images into address spaces.
//
// An image names its entry routine and carries an initialized data
// segment:
//
//	magic   [4]byte  "GKX\x01"
//	namelen uint16   big endian
//	name    [namelen]byte
//	datalen uint32   big endian
//	data    [datalen]byte
//
// Loading maps one text page at TextBase holding the entry routine's
// instruction word and, if there is data, a data region at DataBase.
package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gokern/pkg/errno"
)

var magic = [4]byte{'G', 'K', 'X', 1}

// MaxImage bounds the size of an image file.
const MaxImage = 1 << 20

// Image is a parsed executable.
type Image struct {
	Entry string
	Data  []byte
}

func (img *Image) String() string {
	return fmt.Sprintf("{entry %v data %d}", img.Entry, len(img.Data))
}

// Build encodes an image.
func Build(entry string, data []byte) []byte {
	var b bytes.Buffer
	b.Write(magic[:])
	binary.Write(&b, binary.BigEndian, uint16(len(entry)))
	b.WriteString(entry)
	binary.Write(&b, binary.BigEndian, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

// Parse decodes an image. A malformed image is ENOEXEC.
func Parse(b []byte) (*Image, error) {
	r := bytes.NewReader(b)
	var m [4]byte
	if err := binary.Read(r, binary.BigEndian, &m); err != nil || m != magic {
		return nil, fmt.Errorf("bad magic: %w", errno.ENOEXEC)
	}
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil || n == 0 || int(n) > r.Len() {
		return nil, fmt.Errorf("bad entry: %w", errno.ENOEXEC)
	}
	name := make([]byte, n)
	r.Read(name)
	var dlen uint32
	if err := binary.Read(r, binary.BigEndian, &dlen); err != nil || int64(dlen) != int64(r.Len()) {
		return nil, fmt.Errorf("bad data segment: %w", errno.ENOEXEC)
	}
	data := make([]byte, dlen)
	r.Read(data)
	return &Image{Entry: string(name), Data: data}, nil
}
