package server

import (
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Version is the version string reported by the API. The build script
// overwrites it with the tag of the release being built.
var Version = "devel"

// WelcomeHandler identifies the server and its version to API callers.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "Grove (%s)\n", Version)
}
