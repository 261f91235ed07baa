package store

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
)

// FileSystem implements the file system based store. Container files are
// sharded into two levels of subdirectories derived from the key, so a
// store of a million groves does not put a million entries in one
// directory. Files are only opened when necessary, so the root can sit on
// a network or archival file system without surprise access costs.
//
// The keys are used as file names. This means keys should not contain a
// forward slash character '/'. If you want the files to have a specific
// file extension, make it part of your key.
type FileSystem struct {
	root string
}

var _ Store = &FileSystem{}

// the subdir holding files while they are being written
const scratchdir = "scratch"

// Errors a FileSystem returns for keys it cannot use as file names.
var (
	// ErrKeyExists means a Create would overwrite a container already there
	ErrKeyExists = errors.New("Key already exists")

	// ErrKeyContainsSlash means the key has a forward slash '/' in it
	ErrKeyContainsSlash = errors.New("Key contains forward slash")

	// ErrKeyContainsNonUnicode means the key is not valid UTF-8
	ErrKeyContainsNonUnicode = errors.New("Key contains Non-Unicode character")

	// ErrKeyContainsWhiteSpace means the key has a space or other whitespace in it
	ErrKeyContainsWhiteSpace = errors.New("Key contains White Space")

	// ErrKeyContainsControlChar means the key has a control character in it
	ErrKeyContainsControlChar = errors.New("Key contains Control Characters")
)

// NewFileSystem creates a new FileSystem store rooted at the given path.
// The path should exist already.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel enumerating every key in this store. The
// channel is closed once all the keys have been sent.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go walkTree(c, s.root, 0)
	return c
}

// walkTree does a depth first walk of the shard tree at dir, sending
// the name of every file exactly two levels down on out. Only
// directories are opened and nothing inside a file is touched, so a
// root on an archival file system will not trigger recalls.
//
// The channel is closed when the level 0 call returns.
func walkTree(out chan<- string, dir string, level int) {
	if level == 0 {
		defer close(out)
	}
	f, err := os.Open(dir)
	if err != nil {
		logError(err)
		return
	}
	defer f.Close()
	for {
		// read in batches so a huge shard directory doesn't need to
		// fit in memory all at once
		entries, err := f.Readdir(256)
		for _, e := range entries {
			switch {
			case e.IsDir() && level < 2:
				walkTree(out, filepath.Join(dir, e.Name()), level+1)
			case !e.IsDir() && level == 2:
				out <- e.Name()
			}
		}
		if err != nil {
			// there is no way to hand the error back to our caller
			if err != io.EOF {
				logError(err)
			}
			return
		}
	}
}

// logError reports a problem with the backing file system to both the
// local log and sentry.
func logError(err error) {
	log.Println(err)
	raven.CaptureError(err, nil)
}

// ListPrefix returns every key beginning with prefix, in lexicographic
// order. The prefix is turned into a pattern over the shard directories
// first, so only the part of the tree that could hold matches is
// globbed.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	pattern := filepath.Join(s.root, shardGlob(prefix), prefix+"*")
	names, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	for i, name := range names {
		names[i] = filepath.Base(name)
	}
	return names, nil
}

// shardGlob returns a glob matching the shard directories which could
// contain keys starting with prefix.
func shardGlob(prefix string) string {
	switch len(prefix) {
	case 0:
		return "*/*"
	case 1:
		return prefix + "*/*"
	case 2:
		return prefix + "/*"
	case 3:
		return prefix[:2] + "/" + prefix[2:] + "*"
	}
	return prefix[:2] + "/" + prefix[2:4]
}

// Open returns a reader for the container stored under key, along with
// the container's size in bytes.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if strings.Contains(key, "/") {
		return nil, 0, ErrKeyContainsSlash
	}
	f, err := os.Open(s.keyPath(key))
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create makes a new entry for the given key and returns a writer to
// save data into it. The bytes are spooled into a scratch directory and
// only renamed into their home when the writer is closed, so a crashed
// upload never leaves a half written container where Open can see it.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	// resolve the eventual home of this file first
	home, err := s.ensureDir(keySubdir(key), key)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(home); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	scratch, err := s.ensureDir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL so two concurrent Creates for the same key cannot share
	// a scratch file
	f, err := os.OpenFile(scratch, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &pendingFile{f: f, scratch: scratch, home: home}, nil
}

// ensureDir makes sure subdir exists under the root and returns the
// path the keyed file would have inside it.
func (s *FileSystem) ensureDir(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// keyPath returns the path of the container file for key.
func (s *FileSystem) keyPath(key string) string {
	return filepath.Join(s.root, keySubdir(key), key)
}

// pendingFile is an open scratch file remembering where it belongs.
// Closing it moves it into place.
type pendingFile struct {
	f       io.WriteCloser
	scratch string
	home    string
}

func (w *pendingFile) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *pendingFile) Close() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	// someone may have claimed the key while we were writing
	if _, err := os.Stat(w.home); !os.IsNotExist(err) {
		return ErrKeyExists
	}
	return os.Rename(w.scratch, w.home)
}

// Delete removes the given key from the store. It is not an error to
// delete a key which does not exist.
func (s *FileSystem) Delete(key string) error {
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}
	err := os.Remove(s.keyPath(key))
	if os.IsNotExist(err) {
		err = nil
	}
	return err
}

// keySubdir returns the shard directory a key's file lives in, two
// levels of two characters each. "abcd123" maps to "ab/cd/". Keys
// shorter than four characters use the characters they have.
func keySubdir(key string) string {
	switch len(key) {
	case 0:
		return "./"
	case 1, 2:
		return key + "/"
	case 3:
		return key[:2] + "/" + key[2:] + "/"
	}
	return key[:2] + "/" + key[2:4] + "/"
}

// validateKey screens out keys which cannot be file names.
func validateKey(key string) error {
	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}
	for _, r := range key {
		switch {
		case r == '/':
			return ErrKeyContainsSlash
		case unicode.IsSpace(r):
			return ErrKeyContainsWhiteSpace
		case unicode.IsControl(r):
			return ErrKeyContainsControlChar
		}
	}
	return nil
}
