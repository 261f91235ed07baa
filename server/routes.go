package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"html/template"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/facebookgo/httpdown"
	"github.com/golang/groupcache/singleflight"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/grove/blobcache"
	"github.com/ndlib/grove/store"
	"github.com/ndlib/grove/util"
)

// RESTServer holds the configuration for a grove REST API server.
//
// Fill in the public fields, call Run, and leave the fields alone
// afterwards. Run listens on PortNumber until Stop is called, and
// spawns the fixity checking goroutine unless DisableFixity is set.
//
// Setting Containers and CacheDir is enough for most installations.
// The rest of the fields override pieces individually.
type RESTServer struct {
	// Port number to listen on. Defaults to 14000.
	PortNumber string
	PProfPort  string

	// Containers is the store holding the container blobs. Run will panic
	// if Containers is nil.
	Containers store.Store

	// CacheDir is the location to keep the node payload cache and, when it
	// is a plain directory, the embedded catalog database. It may also be
	// a URL of the form "file:path" or "s3://host/bucket/prefix". If empty
	// everything is kept in memory.
	CacheDir  string
	CacheSize int64 // maximum size of the payload cache, in bytes

	// CacheTimeout, when not 0, selects a cache that expires entries a
	// fixed time after their last use instead of enforcing a size limit.
	CacheTimeout time.Duration

	// MySQL, when set, is the dial string of a MySQL server to keep the
	// catalog in, say "user:password@tcp(localhost:5555)/dbname" or
	// "user@unix(/path/to/socket)/dbname". When empty an embedded
	// database inside CacheDir is used instead.
	MySQL string

	// The remaining fields are for special situations and are usually
	// left alone.

	// Validator resolves the API tokens requests present. A nil
	// Validator treats every request as coming from an admin.
	Validator TokenDecoder

	// Cache keeps node payloads pulled out of (possibly remote)
	// containers.
	Cache blobcache.T

	// Catalog records a summary for every container in the store. If nil,
	// the database selected by MySQL/CacheDir is used.
	Catalog Catalog

	// FixityDatabase stores the records of past and future fixity checks.
	// If nil, the same database as the catalog is used.
	FixityDatabase FixityDB
	DisableFixity  bool
	FixityRate     int64 // checksum budget in MB/hour. 0 means the default.

	server     httpdown.Server    // used to close our listening socket
	opengate   *util.Gate         // bounds concurrent container opens
	treegroup  singleflight.Group // deduplicates tree summary loads
	fixitystop chan struct{}      // closed to signal the fixity loop to exit
	fixityrate *util.RateCounter  // byte budget for fixity checksumming
	useStore   int32              // nonzero while the container store is enabled; accessed atomically
}

// the number of containers we will open at a given time. Requests needing
// more will wait.
const MaxConcurrentOpens = 8

// Run finishes the configuration, spawns the server's goroutines, and
// then blocks handling HTTP requests until Stop.
func (s *RESTServer) Run() error {
	log.Printf("Starting Grove Server version %s", Version)
	log.Printf("CacheDir = %s", s.CacheDir)
	log.Printf("CacheSize = %d", s.CacheSize)

	if s.Containers == nil {
		panic("No container storage given. Containers is nil.")
	}

	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewNobodyDecoder()
	}

	db, err := s.opendb()
	if err != nil {
		return err
	}
	if s.Catalog == nil {
		s.Catalog = db
	}
	if s.FixityDatabase == nil {
		s.FixityDatabase = db
	}

	s.EnableStoreUse()

	if !s.DisableFixity {
		s.StartFixity()
	}

	// init payload cache
	if s.Cache == nil {
		switch {
		case s.CacheTimeout != 0:
			c := blobcache.NewTime(s.getcachestore("blobcache"), s.CacheTimeout)
			go c.Scan()
			s.Cache = c
		case s.CacheSize != 0:
			c := blobcache.NewLRU(s.getcachestore("blobcache"), s.CacheSize)
			go c.Scan()
			s.Cache = c
		default:
			log.Println("Not using payload cache")
			s.Cache = blobcache.EmptyCache{}
		}
	}

	s.opengate = util.NewGate(MaxConcurrentOpens)

	if s.PProfPort != "" {
		log.Println("pprof listening on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}

	log.Println("Listening on", s.PortNumber)
	down := httpdown.HTTP{}
	s.server, err = down.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// opendb selects the catalog database from the server configuration,
// either a MySQL server or the embedded database under CacheDir.
func (s *RESTServer) opendb() (serverDB, error) {
	if s.MySQL != "" {
		log.Println("Using MySQL catalog")
		return NewMysqlCatalog(s.MySQL)
	}
	path := "memory"
	if s.CacheDir != "" && !strings.Contains(s.CacheDir, ":") {
		// the embedded database needs a real directory
		path = filepath.Join(s.CacheDir, "grove.ql")
	}
	log.Println("Using embedded catalog at", path)
	return NewQlCatalog(path)
}

// serverDB is a database serving as both the container catalog and the
// fixity record store. Both built-in adapters qualify.
type serverDB interface {
	Catalog
	FixityDB
}

// Stop closes the listening socket and returns once the server's
// goroutines have wound down.
func (s *RESTServer) Stop() error {
	// refuse new container opens and wait for handlers holding trees
	if s.opengate != nil {
		s.opengate.Stop()
	}
	s.StopFixity()

	// then shutdown all the HTTP connections
	return s.server.Stop()
}

// getcachestore returns a store suitable for cache data, rooted at the given
// subdirectory of CacheDir. CacheDir may be a plain path, a "file:" path, an
// "s3://host/bucket/prefix" URL, or empty for an in-memory store.
func (s *RESTServer) getcachestore(subdir string) store.Store {
	if s.CacheDir == "" {
		return store.NewMemory()
	}
	u, _ := url.Parse(s.CacheDir)
	switch u.Scheme {
	case "s3":
		return s.s3cachestore(u, subdir)
	case "", "file":
		// FileSystem makes directories as it needs them
		return store.NewFileSystem(filepath.Join(u.Opaque+u.Path, subdir))
	}
	log.Println("Problem parsing cache location", s.CacheDir)
	return store.NewMemory()
}

// s3cachestore opens the bucket named by u, keeping cache data for
// subdir behind a key prefix so several caches can share the bucket.
func (s *RESTServer) s3cachestore(u *url.URL, subdir string) store.Store {
	conf := &aws.Config{}
	if u.Host != "" {
		conf.Endpoint = aws.String(u.Host)
		conf.Region = aws.String("us-east-1")
		if strings.Contains(u.Host, "localhost") {
			// a local Minio has no SSL
			conf.DisableSSL = aws.Bool(true)
			conf.S3ForcePathStyle = aws.Bool(true)
		}
	}
	bucket, prefix := splitBucketPrefix(u.Path)
	st := store.NewS3(bucket, prefix, session.New(conf))
	if subdir == "" {
		return st
	}
	return store.NewWithPrefix(st, subdir+"/")
}

// splitBucketPrefix splits a URL path into the bucket name and the key
// prefix after it, if any.
//
//	"/bucket"               -> ("bucket", "")
//	"/bucket/and/a/prefix/" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(path string) (bucket, prefix string) {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		// the raw container blob surface
		{"GET", "/container/list", RoleRead, s.ContainerListHandler},
		{"GET", "/container/list/:prefix", RoleRead, s.ContainerListPrefixHandler},
		{"GET", "/container/open/:key", RoleRead, s.ContainerOpenHandler},

		// the logical grove surface
		{"GET", "/grove/:key", RoleMDOnly, s.GroveInfoHandler},
		{"POST", "/grove/:key", RoleWrite, s.GroveUploadHandler},
		{"DELETE", "/grove/:key", RoleAdmin, s.GroveDeleteHandler},
		{"GET", "/grove/:key/tree", RoleMDOnly, s.GroveTreeHandler},
		{"GET", "/grove/:key/node/*path", RoleRead, s.GroveNodeHandler},
		{"HEAD", "/grove/:key/node/*path", RoleRead, s.GroveNodeHandler},

		// fixity records
		{"GET", "/fixity", RoleRead, s.GetFixityHandler},
		{"GET", "/fixity/:id", RoleRead, s.GetFixityIdHandler},
		{"POST", "/fixity/:key", RoleWrite, s.PostFixityHandler},
		{"PUT", "/fixity/:id", RoleWrite, s.PutFixityHandler},
		{"DELETE", "/fixity/:id", RoleWrite, s.DeleteFixityHandler},

		// /admin/use_store (enable, disable, get status)
		{"GET", "/admin/use_store", RoleUnknown, s.GetStoreUseHandler},
		{"PUT", "/admin/use_store/:status", RoleAdmin, s.SetStoreUseHandler},

		// other
		{"GET", "/", RoleUnknown, WelcomeHandler},
		{"GET", "/stats", RoleUnknown, NotImplementedHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convenience functions

// VarHandler serves expvar data through an httprouter handler, the way
// the expvar package itself does on the default mux.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// NotImplementedHandler answers 501 for routes that are reserved but
// not built yet.
func NotImplementedHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.WriteHeader(http.StatusNotImplemented)
	fmt.Fprintf(w, "Not Implemented\n")
}

// writeHTMLorJSON renders val as JSON when the request carries
// "Accept-Encoding: application/json", and through tmpl otherwise.
func writeHTMLorJSON(w http.ResponseWriter,
	r *http.Request,
	tmpl *template.Template,
	val interface{}) {

	if r.Header.Get("Accept-Encoding") == "application/json" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(val)
		return
	}
	tmpl.Execute(w, val)
}

// authzWrapper checks the request's API token for at least leastRole
// before calling handler. The resolved user name rides along in the
// parameter "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		user, role, err := s.Validator.TokenDecode(r.Header.Get("X-Api-Key"))
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}
		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}
		handler(w, r, setParam(ps, "username", user))
	}
}

// setParam replaces the value of key in ps, appending the pair if the
// key is not there.
func setParam(ps httprouter.Params, key, value string) httprouter.Params {
	for i := range ps {
		if ps[i].Key == key {
			ps[i].Value = value
			return ps
		}
	}
	return append(ps, httprouter.Param{Key: key, Value: value})
}

// logWrapper logs the request line before handing the request on.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}
