package tree

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteString appends s to the payload at the current position, encoded as
// a 4 byte little endian length followed by the raw bytes.
func (n *Node) WriteString(s string) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	if _, err := n.Write(b[:]); err != nil {
		return err
	}
	_, err := io.WriteString(n, s)
	return err
}

// ReadString reads a string written by WriteString from the current
// position. The length prefix is checked against the bytes remaining in
// the payload before anything is allocated, so a corrupt prefix cannot
// demand gigabytes.
func (n *Node) ReadString() (string, error) {
	var b [4]byte
	if _, err := io.ReadFull(n, b[:]); err != nil {
		return "", err
	}
	length := int64(binary.LittleEndian.Uint32(b[:]))
	remain := n.Size() - n.Position()
	if length > remain {
		return "", fmt.Errorf("container: string length %d exceeds the %d bytes remaining", length, remain)
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(n, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
