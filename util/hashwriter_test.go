package util

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

const hashInput = "hello1 hello2 hello3 hello4 hello5abcdefghijklmnopqrstuvwxyz0123456789"

var (
	hashInputMD5, _ = hex.DecodeString("0101fc798d94a730b0f0bf1bd2cc1959")
	hashInputSHA, _ = hex.DecodeString("fef15edd82b33633582c723562d192fec2d2003df12d4aeac89df17c279a1658")
)

func TestHashWriter(t *testing.T) {
	var out bytes.Buffer
	hw := NewHashWriter(&out)
	hw.Write([]byte(hashInput))
	if out.String() != hashInput {
		t.Errorf("Received %q, expected the input passed through", out.String())
	}
	h, ok := hw.CheckMD5(hashInputMD5)
	if !ok {
		t.Errorf("Received %v, expected %v", h, hashInputMD5)
	}
	h, ok = hw.CheckSHA256(hashInputSHA)
	if !ok {
		t.Errorf("Received %v, expected %v", h, hashInputSHA)
	}
	// empty goals match anything
	if _, ok := hw.CheckMD5(nil); !ok {
		t.Errorf("Received false for an empty goal, expected true")
	}
	// wrong goals do not
	if _, ok := hw.CheckMD5(hashInputSHA); ok {
		t.Errorf("Received true for a wrong goal, expected false")
	}
}

func TestVerifyStreamHash(t *testing.T) {
	var table = []struct {
		md5, sha []byte
		ok       bool
	}{
		{hashInputMD5, hashInputSHA, true},
		{nil, hashInputSHA, true},
		{hashInputMD5, nil, true},
		{nil, nil, true},
		{hashInputSHA, nil, false}, // a sha256 in the md5 slot cannot match
	}
	for i, row := range table {
		ok, err := VerifyStreamHash(strings.NewReader(hashInput), row.md5, row.sha)
		if err != nil {
			t.Fatalf("case %d: Received %v, expected nil", i, err)
		}
		if ok != row.ok {
			t.Errorf("case %d: Received %v, expected %v", i, ok, row.ok)
		}
	}
}
