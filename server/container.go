package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// ContainerListHandler handles GET requests to "/container/list".
func (s *RESTServer) ContainerListHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {

	if !s.storeEnabled() {
		w.WriteHeader(503)
		fmt.Fprintln(w, "the container store is disabled")
		log.Printf("GET /container/list returns 503 - store disabled")
		return
	}

	c := s.Containers.List()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	// we encode this as JSON ourselves....how could it go wrong?
	w.Write([]byte("["))
	// comma starts as a space
	var comma = ' '
	for key := range c {
		fmt.Fprintf(w, "%c\"%s\"", comma, key)
		comma = ','
	}
	w.Write([]byte("]"))
}

// ContainerListPrefixHandler handles GET requests to "/container/list/:prefix".
func (s *RESTServer) ContainerListPrefixHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	prefix := ps.ByName("prefix")

	if !s.storeEnabled() {
		w.WriteHeader(503)
		fmt.Fprintln(w, "the container store is disabled")
		log.Printf("GET /container/list/%s returns 503 - store disabled", prefix)
		return
	}

	result, err := s.Containers.ListPrefix(prefix)
	if err != nil {
		fmt.Fprintln(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.Encode(result) // ignore any error
}

// ContainerOpenHandler handles GET requests to "/container/open/:key". The
// container blob is served byte for byte, with Range requests honored, so
// the remote side can window it the same way a local file would be.
func (s *RESTServer) ContainerOpenHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")

	if !s.storeEnabled() {
		w.WriteHeader(503)
		fmt.Fprintln(w, "the container store is disabled")
		log.Printf("GET /container/open/%s returns 503 - store disabled", key)
		return
	}

	data, size, err := s.Containers.Open(key)
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, err)
		return
	}
	defer data.Close()
	http.ServeContent(w, r, "", time.Time{}, io.NewSectionReader(data, 0, size))
}
