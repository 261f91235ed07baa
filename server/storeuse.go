package server

import (
	"fmt"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/julienschmidt/httprouter"
)

// The store use switch lets an admin take the container store offline
// without stopping the server, say while the backing volume is being
// migrated. While off, routes touching the store answer 503.

// storeEnabled reports whether the container store is on. Every request
// handler reads the flag while the admin routes flip it from their own
// goroutines, hence the atomics.
func (s *RESTServer) storeEnabled() bool {
	return atomic.LoadInt32(&s.useStore) != 0
}

func (s *RESTServer) EnableStoreUse() {
	log.Println("Enabling Container Store Use")
	atomic.StoreInt32(&s.useStore, 1)
}

func (s *RESTServer) DisableStoreUse() {
	log.Println("Disabling Container Store Use")
	atomic.StoreInt32(&s.useStore, 0)
}

// SetStoreUseHandler handles requests to PUT /admin/use_store/:status
func (s *RESTServer) SetStoreUseHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {

	status := ps.ByName("status")

	switch status {
	case "on":
		w.WriteHeader(201)
		// start Enable Process, unless already enabled
		s.EnableStoreUse()
	case "off":
		w.WriteHeader(201)
		// start Disable Process, unless already disabled
		s.DisableStoreUse()
	default:
		w.WriteHeader(503)
		log.Println("PUT /admin/use_store: unknown parameter ", status)
	}
}

// GetStoreUseHandler handles requests from GET /admin/use_store
func (s *RESTServer) GetStoreUseHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.storeEnabled() {
		fmt.Fprintf(w, "On")
	} else {
		fmt.Fprintf(w, "Off")
	}
}
