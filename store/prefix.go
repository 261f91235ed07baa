package store

import (
	"io"
	"strings"
)

// NewWithPrefix wraps s in a Store whose keys are all silently prefixed.
// Several users can carve namespaces out of one underlying store this way.
// The server keeps cache data under a prefix so it cannot collide with
// stored containers.
func NewWithPrefix(s Store, prefix string) Store {
	return prefixed{base: s, prefix: prefix}
}

type prefixed struct {
	base   Store
	prefix string
}

func (p prefixed) List() <-chan string {
	out := make(chan string)
	go func() {
		for key := range p.base.List() {
			if strings.HasPrefix(key, p.prefix) {
				out <- strings.TrimPrefix(key, p.prefix)
			}
		}
		close(out)
	}()
	return out
}

func (p prefixed) ListPrefix(prefix string) ([]string, error) {
	keys, err := p.base.ListPrefix(p.prefix + prefix)
	var result []string
	for _, key := range keys {
		if strings.HasPrefix(key, p.prefix) {
			result = append(result, strings.TrimPrefix(key, p.prefix))
		}
	}
	return result, err
}

func (p prefixed) Open(key string) (ReadAtCloser, int64, error) {
	return p.base.Open(p.prefix + key)
}

func (p prefixed) Create(key string) (io.WriteCloser, error) {
	return p.base.Create(p.prefix + key)
}

func (p prefixed) Delete(key string) error {
	return p.base.Delete(p.prefix + key)
}
