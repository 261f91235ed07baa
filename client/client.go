// Package client provides Go bindings for the grove server's REST API.
package client

import (
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
)

// A Connection represents a connection to a grove server. It can be shared
// between multiple goroutines.
type Connection struct {
	// HostURL is the base URL of the grove server, e.g.
	// "http://localhost:14000".
	HostURL string

	// Token is an API key to send with each request. It may be empty.
	Token string

	clientinit sync.Once
	client     *http.Client
}

// Exported errors
var (
	ErrNotFound         = errors.New("Not Found")
	ErrNotAuthorized    = errors.New("Access Denied")
	ErrKeyExists        = errors.New("Key Already Exists")
	ErrChecksumMismatch = errors.New("Checksum Mismatch")
	ErrUnexpectedResp   = errors.New("Unexpected Response Code")
)

// List returns the keys of every container in the server's store.
func (c *Connection) List() ([]string, error) {
	return c.getlist("/container/list")
}

// ListPrefix returns the keys in the server's store beginning with prefix.
func (c *Connection) ListPrefix(prefix string) ([]string, error) {
	return c.getlist("/container/list/" + prefix)
}

// Info returns the catalog record of the given container, as the server's
// JSON rendition.
func (c *Connection) Info(key string) (*jason.Object, error) {
	return c.getjson("/grove/" + key)
}

// Tree returns the node listing of the given container. The "nodes" member
// holds one entry per node, in preorder, with its index path, payload size,
// and child count.
func (c *Connection) Tree(key string) (*jason.Object, error) {
	return c.getjson("/grove/" + key + "/tree")
}

// ReadNode copies the payload of a single node into w. The node is named by
// its child indexes from the root; no indexes means the root itself.
func (c *Connection) ReadNode(w io.Writer, key string, indexes []int) error {
	route := "/grove/" + key + "/node/" + indexpath(indexes)
	resp, err := c.get(route)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return errors.Wrap(err, "grove: read node")
}

// Container copies the whole container blob into w. The result can be saved
// and loaded as a local file.
func (c *Connection) Container(w io.Writer, key string) error {
	resp, err := c.get("/container/open/" + key)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return errors.Wrap(err, "grove: container")
}

// Upload stores the container blob read from r under the given key. Keys
// are write once, so uploading to an existing key returns ErrKeyExists. A
// non-empty md5sum is sent along for the server to verify the bytes it
// received.
func (c *Connection) Upload(key string, r io.Reader, md5sum []byte) error {
	req, err := http.NewRequest("POST", c.HostURL+"/grove/"+key, r)
	if err != nil {
		return errors.Wrap(err, "grove: upload")
	}
	if len(md5sum) > 0 {
		req.Header.Set("X-Upload-Md5", hex.EncodeToString(md5sum))
	}
	resp, err := c.do(req)
	if err != nil {
		return errors.Wrap(err, "grove: upload")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 201:
		return nil
	case 401:
		return ErrNotAuthorized
	case 409:
		return ErrKeyExists
	case 412:
		return ErrChecksumMismatch
	}
	return errors.Wrapf(ErrUnexpectedResp, "status %d", resp.StatusCode)
}

// Delete removes the container with the given key from the server.
func (c *Connection) Delete(key string) error {
	req, err := http.NewRequest("DELETE", c.HostURL+"/grove/"+key, nil)
	if err != nil {
		return errors.Wrap(err, "grove: delete")
	}
	resp, err := c.do(req)
	if err != nil {
		return errors.Wrap(err, "grove: delete")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200:
		return nil
	case 401:
		return ErrNotAuthorized
	}
	return errors.Wrapf(ErrUnexpectedResp, "status %d", resp.StatusCode)
}

// ScheduleFixity asks the server to run a fixity check of the given
// container soon. It returns the route of the new fixity record.
func (c *Connection) ScheduleFixity(key string) (string, error) {
	req, err := http.NewRequest("POST", c.HostURL+"/fixity/"+key, nil)
	if err != nil {
		return "", errors.Wrap(err, "grove: fixity")
	}
	resp, err := c.do(req)
	if err != nil {
		return "", errors.Wrap(err, "grove: fixity")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 201:
		return resp.Header.Get("Location"), nil
	case 404:
		return "", ErrNotFound
	case 401:
		return "", ErrNotAuthorized
	}
	return "", errors.Wrapf(ErrUnexpectedResp, "status %d", resp.StatusCode)
}

func indexpath(indexes []int) string {
	var route string
	for i, n := range indexes {
		if i > 0 {
			route += "/"
		}
		route += strconv.Itoa(n)
	}
	return route
}

// get performs a GET request asking for JSON, and maps error status codes
// to our exported errors. The caller owns the response body when the error
// is nil.
func (c *Connection) get(route string) (*http.Response, error) {
	req, err := http.NewRequest("GET", c.HostURL+route, nil)
	if err != nil {
		return nil, errors.Wrap(err, "grove: request")
	}
	req.Header.Set("Accept-Encoding", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, errors.Wrap(err, "grove: request")
	}
	switch resp.StatusCode {
	case 200:
		return resp, nil
	case 404:
		resp.Body.Close()
		return nil, ErrNotFound
	case 401:
		resp.Body.Close()
		return nil, ErrNotAuthorized
	}
	code := resp.StatusCode
	resp.Body.Close()
	return nil, errors.Wrapf(ErrUnexpectedResp, "status %d", code)
}

func (c *Connection) getjson(route string) (*jason.Object, error) {
	resp, err := c.get(route)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	v, err := jason.NewObjectFromReader(resp.Body)
	return v, errors.Wrap(err, "grove: parse response")
}

func (c *Connection) getlist(route string) ([]string, error) {
	resp, err := c.get(route)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	v, err := jason.NewValueFromReader(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "grove: parse response")
	}
	items, err := v.Array()
	if err != nil {
		return nil, errors.Wrap(err, "grove: parse response")
	}
	var result []string
	for _, item := range items {
		s, err := item.String()
		if err != nil {
			return nil, errors.Wrap(err, "grove: parse response")
		}
		result = append(result, s)
	}
	return result, nil
}

// do performs an http request using our client with a timeout. The timeout
// is arbitrary, and is just there so we don't hang indefinitely should the
// server never close the connection.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Add("X-Api-Key", c.Token)
	}
	// a Connection may be shared, so the first requests can race here
	c.clientinit.Do(func() {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	})
	return c.client.Do(req)
}
