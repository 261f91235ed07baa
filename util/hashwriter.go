package util

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"hash"
	"io"
	"io/ioutil"
)

// A HashWriter computes the MD5 and SHA256 hashes of everything written to
// it while passing the bytes through to an underlying writer. Uploads are
// checksummed this way so the data is only read once.
type HashWriter struct {
	out    io.Writer
	md5    hash.Hash
	sha256 hash.Hash
}

// NewHashWriter returns a HashWriter passing writes through to w.
func NewHashWriter(w io.Writer) *HashWriter {
	return &HashWriter{out: w, md5: md5.New(), sha256: sha256.New()}
}

func (hw *HashWriter) Write(p []byte) (int, error) {
	// hash writes never fail
	hw.md5.Write(p)
	hw.sha256.Write(p)
	return hw.out.Write(p)
}

// CheckMD5 returns the MD5 hash of everything written so far, along with
// whether it matches the goal. An empty goal matches anything.
func (hw *HashWriter) CheckMD5(goal []byte) ([]byte, bool) {
	return checkgoal(hw.md5, goal)
}

// CheckSHA256 is CheckMD5 for the SHA256 hash.
func (hw *HashWriter) CheckSHA256(goal []byte) ([]byte, bool) {
	return checkgoal(hw.sha256, goal)
}

func checkgoal(h hash.Hash, goal []byte) ([]byte, bool) {
	computed := h.Sum(nil)
	return computed, len(goal) == 0 || bytes.Equal(goal, computed)
}

// VerifyStreamHash reads r to its end and reports whether its MD5 and SHA256
// hashes match the goals given. An empty goal is not checked at all, and if
// both goals are empty the reader is not even read. The reader is not closed.
func VerifyStreamHash(r io.Reader, md5goal, sha256goal []byte) (bool, error) {
	if len(md5goal) == 0 && len(sha256goal) == 0 {
		return true, nil
	}
	hw := NewHashWriter(ioutil.Discard)
	_, err := io.Copy(hw, r)
	_, md5ok := hw.CheckMD5(md5goal)
	_, shaok := hw.CheckSHA256(sha256goal)
	return md5ok && shaok, err
}
