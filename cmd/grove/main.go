// Grove is a server providing access to a store of container files. Every
// container holds a tree of nodes, each node being both a byte stream and an
// ordered list of children. The server keeps a catalog of every container,
// serves individual node payloads over HTTP, and verifies the stored files
// against their checksums in the background.
//
// Error reports are sent to Sentry if the SENTRY_DSN environment variable is
// set.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ndlib/grove/server"
	"github.com/ndlib/grove/store"
)

// Config holds every server setting. Flags are read first, and then the
// configuration file, if one was given, is applied over them.
type Config struct {
	Port          string `toml:"port"`
	PProfPort     string `toml:"pprof_port"`
	Storage       string `toml:"storage"`
	CacheDir      string `toml:"cache_dir"`
	CacheSize     int64  `toml:"cache_size"`
	CacheTimeout  string `toml:"cache_timeout"`
	Mysql         string `toml:"mysql"`
	Tokenfile     string `toml:"tokenfile"`
	FixityRate    int64  `toml:"fixity_rate"`
	DisableFixity bool   `toml:"disable_fixity"`
	CowHost       string `toml:"cow_host"`
	CowToken      string `toml:"cow_token"`
}

func main() {
	var (
		configFile    = flag.String("config-file", "", "location of a configuration file")
		showVersion   = flag.Bool("version", false, "display the version and exit")
		port          = flag.String("port", "14000", "port number to listen for API requests on")
		pprofPort     = flag.String("pprof-port", "", "port number for a pprof server, empty means none")
		storage       = flag.String("storage", "", "location of the container storage, empty means in memory")
		cacheDir      = flag.String("cache-dir", "", "location of the payload cache, empty means in memory")
		cacheSize     = flag.Int64("cache-size", 100, "maximum size of the payload cache in MB")
		cacheTimeout  = flag.String("cache-timeout", "", "evict cache entries this long after their last use, e.g. \"73h\"")
		mysql         = flag.String("mysql", "", "dial command for a MySQL catalog database")
		tokenfile     = flag.String("tokenfile", "", "file listing the user tokens to accept")
		fixityRate    = flag.Int64("fixity-rate", 0, "fixity checksum budget in MB per hour, 0 means the default")
		disableFixity = flag.Bool("disable-fixity", false, "do not run background fixity checks")
		cowHost       = flag.String("cow", "", "copy containers down from this grove server as they are needed, keeping writes local")
		cowToken      = flag.String("cow-token", "", "API token for the server given with --cow")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("grove version", server.Version)
		return
	}

	config := Config{
		Port:          *port,
		PProfPort:     *pprofPort,
		Storage:       *storage,
		CacheDir:      *cacheDir,
		CacheSize:     *cacheSize,
		CacheTimeout:  *cacheTimeout,
		Mysql:         *mysql,
		Tokenfile:     *tokenfile,
		FixityRate:    *fixityRate,
		DisableFixity: *disableFixity,
		CowHost:       *cowHost,
		CowToken:      *cowToken,
	}
	if *configFile != "" {
		// settings in the file win over the command line
		if _, err := toml.DecodeFile(*configFile, &config); err != nil {
			log.Fatalf("Error reading %s: %s", *configFile, err)
		}
	}

	var validator server.TokenDecoder
	if config.Tokenfile != "" {
		var err error
		validator, err = server.NewListDecoderFile(config.Tokenfile)
		if err != nil {
			log.Fatalf("Error reading %s: %s", config.Tokenfile, err)
		}
	}

	var timeout time.Duration
	if config.CacheTimeout != "" {
		var err error
		timeout, err = time.ParseDuration(config.CacheTimeout)
		if err != nil {
			log.Fatalf("Error parsing cache timeout %s: %s", config.CacheTimeout, err)
		}
	}

	var containers store.Store
	containers = parselocation(config.Storage, "containers")
	if containers == nil {
		log.Fatalln("Problem parsing storage location", config.Storage)
	}
	if config.CowHost != "" {
		log.Println("Copy on write from", config.CowHost)
		containers = store.NewCOW(containers, config.CowHost, config.CowToken)
	}

	s := &server.RESTServer{
		PortNumber:    config.Port,
		PProfPort:     config.PProfPort,
		Containers:    containers,
		CacheDir:      config.CacheDir,
		CacheSize:     config.CacheSize * 1000000,
		CacheTimeout:  timeout,
		MySQL:         config.Mysql,
		Validator:     validator,
		FixityRate:    config.FixityRate,
		DisableFixity: config.DisableFixity,
	}

	// stop the server nicely on SIGINT or SIGTERM
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		signal.Stop(sig)
		log.Println("Exiting...")
		s.Stop()
	}()

	err := s.Run()
	if err != nil {
		log.Println("Error:", err)
	}
}
