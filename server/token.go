package server

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// A TokenDecoder turns the API key presented with a request into a user name
// and a role. An invalid or unknown token comes back as the user "" with
// RoleUnknown; the error return is reserved for lookups that could not be
// carried out at all.
type TokenDecoder interface {
	TokenDecode(token string) (user string, role Role, err error)
}

// A Role names how much access a user is granted. The roles are ordered,
// and each one includes everything below it.
type Role int

const (
	RoleUnknown Role = iota // no access
	RoleMDOnly              // may read catalog metadata
	RoleRead                // may also read container and node data
	RoleWrite               // may also upload and delete containers
	RoleAdmin               // may do everything
)

var roleNames = map[string]Role{
	"mdonly": RoleMDOnly,
	"read":   RoleRead,
	"write":  RoleWrite,
	"admin":  RoleAdmin,
}

// parseRole resolves a role name from a token list, ignoring case.
// Names not in the table come back as RoleUnknown.
func parseRole(s string) Role {
	return roleNames[strings.ToLower(s)]
}

// NewNobodyDecoder returns a TokenDecoder that accepts every token as the
// user "nobody" with the admin role. A server started without a token file
// uses it, so development servers work without handing out keys.
func NewNobodyDecoder() TokenDecoder {
	return nobodyDecoder{}
}

type nobodyDecoder struct{}

func (nobodyDecoder) TokenDecode(string) (string, Role, error) {
	return "nobody", RoleAdmin, nil
}

// NewListDecoder builds a TokenDecoder from a static user list read from r.
// Each line of the list has three whitespace separated fields:
//
//	<user name> <role> <token>
//
// The role is one of "MDOnly", "Read", "Write", or "Admin", matched without
// regard to case. Blank lines, lines starting with a hash '#', and lines
// with the wrong number of fields are skipped. Neither user names nor
// tokens can contain whitespace.
func NewListDecoder(r io.Reader) (TokenDecoder, error) {
	ld := listDecoder{users: make(map[string]userEntry)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) != 3 {
			continue
		}
		ld.users[fields[2]] = userEntry{user: fields[0], role: parseRole(fields[1])}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ld, nil
}

// NewListDecoderFile reads the file fname in the format NewListDecoder
// expects.
func NewListDecoderFile(fname string) (TokenDecoder, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	td, err := NewListDecoder(f)
	f.Close()
	return td, err
}

// NewListDecoderString parses the string data in the format NewListDecoder
// expects.
func NewListDecoderString(data string) (TokenDecoder, error) {
	return NewListDecoder(strings.NewReader(data))
}

type userEntry struct {
	user string
	role Role
}

type listDecoder struct {
	users map[string]userEntry
}

func (ld listDecoder) TokenDecode(token string) (string, Role, error) {
	// the zero userEntry is already the "" user with RoleUnknown
	e := ld.users[token]
	return e.user, e.role, nil
}
