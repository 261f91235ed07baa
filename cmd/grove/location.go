package main

import (
	"log"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/ndlib/grove/store"
)

// parselocation makes a store for the given location string, keeping
// everything under the subdirectory or key prefix addition. An empty
// location selects a memory store. A plain path or a "file:" URL
// selects a directory on disk, and an "s3:" URL selects a bucket, with
// an optional endpoint host for local development:
//
//	/var/data/grove
//	file:relative/path
//	s3:/bucket/prefix
//	s3://localhost:9000/bucket
//
// nil is returned when the location cannot be understood.
func parselocation(location string, addition string) store.Store {
	if location == "" {
		return store.NewMemory()
	}
	u, _ := url.Parse(location)
	switch u.Scheme {
	case "", "file":
		// u.Opaque holds the path of the form "file:rel/path"
		return store.NewFileSystem(filepath.Join(u.Opaque+u.Path, addition))
	case "s3":
		bucket, prefix := splitBucketPrefix(u.Path, addition)
		if bucket == "" {
			log.Println("location", location, "has no bucket name")
			return nil
		}
		return store.NewS3(bucket, prefix, session.New(s3config(u.Host)))
	}
	log.Println("cannot understand location", location)
	return nil
}

// s3config points the SDK at an alternate endpoint, if one was given.
// A localhost endpoint also turns off SSL, for working against Minio.
func s3config(host string) *aws.Config {
	conf := &aws.Config{}
	if host == "" {
		return conf
	}
	conf.Endpoint = aws.String(host)
	conf.Region = aws.String("us-east-1")
	if strings.Contains(host, "localhost") {
		conf.DisableSSL = aws.Bool(true)
		conf.S3ForcePathStyle = aws.Bool(true)
	}
	return conf
}

// splitBucketPrefix takes the path part of an s3 location and returns
// the bucket name and the key prefix, with addition joined onto the
// prefix. A nonempty prefix always comes back ending in one slash.
//
//	""                   -> ("", "")
//	"bucket"             -> ("bucket", "")
//	"bucket/some/prefix" -> ("bucket", "some/prefix/")
func splitBucketPrefix(location string, addition string) (bucket, prefix string) {
	if location == "" {
		return "", ""
	}
	parts := strings.SplitN(strings.TrimPrefix(location, "/"), "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	if addition != "" {
		prefix = path.Join(prefix, addition)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix
}
