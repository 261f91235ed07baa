package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// An S3 store keeps each container blob as one object in an AWS S3
// bucket. Do not change Bucket or Prefix while other calls are active.
type S3 struct {
	api    *s3.S3
	Bucket string
	Prefix string
	sizes  *sizecache // remembered HEAD results
}

// NewS3 returns a store backed by the given bucket. Every key has prefix
// prepended, so several stores can share one bucket. With the prefix
// "cache/" an Open("hello") reads the object "cache/hello". All requests
// use the credentials carried by the session.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		api:    s3.New(awsSession),
		sizes:  newSizeCache(),
	}
}

// eachObject pages through every object whose key starts with the
// store's Prefix plus extra, calling fn with the key (Prefix removed).
func (s *S3) eachObject(extra string, fn func(key string)) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + extra),
	}
	return s.api.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, obj := range page.Contents {
				fn(strings.TrimPrefix(*obj.Key, s.Prefix))
			}
			return !lastpage
		})
}

// List returns every key in this store. Only objects under the store's
// Prefix are seen, so a bucket holding other data is fine.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		err := s.eachObject("", func(key string) { out <- key })
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// ListPrefix returns the keys beginning with prefix. The store's own
// Prefix is prepended for the request and stripped from the results.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	err := s.eachObject(prefix, func(key string) { result = append(result, key) })
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Pattern": prefix})
	}
	return result, err
}

// Open returns a ReadAtCloser on the content of key. Byte ranges are
// downloaded as reads ask for them, with around 50 MB resident at once,
// which suits lazily loaded trees that cluster reads inside a few
// windows at a time.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.objectSize(key)
	if err != nil {
		return nil, 0, err
	}
	rd := &s3Reader{
		api:    s.api,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		size:   size,
	}
	return rd, size, nil
}

// Create returns a WriteCloser uploading content to key. Writes are
// batched into parts and sent with the multipart interface, with part
// sizes growing so objects may reach the 5 TB S3 limit.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	_, err := s.objectSize(key)
	if err == nil {
		return nil, ErrKeyExists
	}
	// forget any cached miss for this key
	s.sizes.Set(key, 0)
	return &s3Writer{
		api:    s.api,
		bucket: s.Bucket,
		key:    s.Prefix + key,
	}, nil
}

// Delete removes key from the store. Deleting a key that does not exist
// is not an error.
func (s *S3) Delete(key string) error {
	_, err := s.api.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
		return err
	}
	s.sizes.Set(key, sizeMissing)
	return nil
}

// objectSize reports the size of key, or an error if it does not exist.
// Sizes are cached, which cuts the HEAD request volume enormously.
func (s *S3) objectSize(key string) (int64, error) {
	return s.sizes.Get(key, s.headObject)
}

// headObject issues the HEAD request behind objectSize.
func (s *S3) headObject(key string) (int64, error) {
	info, err := s.api.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		return 0, err
	}
	return *info.ContentLength, nil
}

// s3Reader adapts ranged GETs on one object to the io.ReaderAt
// interface. Downloaded ranges are kept in a small most-recently-used
// list, so the common case of a few active windows never refetches.
//
// Spans always start on a spanSize boundary, so resident spans are
// disjoint. Not safe for use from more than one goroutine.
type s3Reader struct {
	api    *s3.S3
	bucket string
	key    string
	spans  []span // most recently used first
	size   int64
}

// span is one downloaded byte range.
type span struct {
	off  int64
	data []byte
}

const (
	// spans resident per reader before the oldest is dropped
	readerSpanCount = 5

	spanSize = 10 * 1024 * 1024 // 10 MiB
)

// ReadAt implements io.ReaderAt.
func (rd *s3Reader) ReadAt(p []byte, off int64) (int, error) {
	var nread int
	var err error
	for len(p) > 0 && off < rd.size {
		var sp span
		sp, err = rd.window(off)
		if err != nil {
			// keep any bytes copied on earlier passes
			break
		}
		n := copy(p, sp.data[off-sp.off:])
		p = p[n:]
		off += int64(n)
		nread += n
	}
	// Data plus EOF means the EOF waits for the next call. No data and
	// no error means the offset is past the end.
	if err == io.EOF && nread > 0 {
		err = nil
	} else if err == nil && nread == 0 {
		err = io.EOF
	}
	return nread, err
}

// window returns a span holding the byte at off, downloading it if no
// resident span covers it. The span returned is moved to the front of
// the list, and a download may evict the span at the back.
func (rd *s3Reader) window(off int64) (span, error) {
	for i, sp := range rd.spans {
		if sp.off <= off && off < sp.off+int64(len(sp.data)) {
			copy(rd.spans[1:i+1], rd.spans[:i])
			rd.spans[0] = sp
			return sp, nil
		}
	}
	sp, err := rd.download(off)
	if err != nil {
		return span{}, err
	}
	if len(rd.spans) < readerSpanCount {
		rd.spans = append(rd.spans, span{})
	}
	copy(rd.spans[1:], rd.spans[:len(rd.spans)-1])
	rd.spans[0] = sp
	return sp, nil
}

// download fetches the span containing off. The span begins on the
// spanSize multiple at or below off and holds up to spanSize bytes,
// less at the end of the object.
func (rd *s3Reader) download(off int64) (span, error) {
	start := (off / spanSize) * spanSize
	output, err := rd.api.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(rd.bucket),
		Key:    aws.String(rd.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, start+spanSize-1)),
	})
	if err != nil {
		log.Println("S3 download:", rd.key, off, err)
		// a range past the end comes back as a failed request
		e, ok := err.(awserr.RequestFailure)
		if ok && e.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
			err = io.EOF
		}
		return span{}, err
	}
	data, err := ioutil.ReadAll(output.Body)
	output.Body.Close()
	if len(data) == 0 && err == nil {
		err = io.EOF
	}
	return span{off: start, data: data}, err
}

func (rd *s3Reader) Close() error {
	return nil
}

// s3Writer uploads one object. Content small enough to fit the first
// buffer goes up as a single PUT. Anything larger switches to the
// multipart interface.
//
// The total size is unknown while writing, so the part size doubles
// from part to part. Small objects use small parts, yet the schedule
// still reaches past what a fixed 5 MB part size could address.
//
// AWS allows part sizes between 5 MB and 5 GB. Part i is sent once the
// buffer passes min(basePartSize << i, maxPartSize), giving
//
//      object size     parts used
//      -----------     ----------
//           1 GB             5
//          10 GB             8
//         100 GB            36
//        1000 GB           301
type s3Writer struct {
	api      *s3.S3
	bucket   string
	key      string
	buf      *bytes.Buffer // part being filled
	isMulti  bool          // a multipart upload has been started
	uploadID string
	part     int      // index of the part being filled, 0-based
	etags    []string // etag for each uploaded part, in part order
	abort    bool     // discard everything at Close
}

// basePartSize << 6 must equal maxPartSize, see partThreshold.
const (
	basePartSize = 64 * 1024 * 1024
	maxPartSize  = 4 * 1024 * 1024 * 1024
)

var (
	// uploadBufPool holds spare part buffers, shared by every s3Writer.
	uploadBufPool sync.Pool

	ErrNoETag   = errors.New("No ETag was returned from AWS")
	ErrNotExist = errors.New("Key does not exist")
)

// partThreshold is the buffer size that triggers the upload of part i.
func partThreshold(i int) int {
	if i >= 6 {
		return maxPartSize
	}
	return basePartSize << uint(i)
}

func (wr *s3Writer) Write(p []byte) (int, error) {
	if wr.buf == nil {
		wr.buf = wr.getbuf()
	}
	n, err := wr.buf.Write(p)
	if n == 0 && err != nil {
		wr.abort = true
		return n, err
	}
	if wr.buf.Len() > partThreshold(wr.part) {
		err = wr.putPart(wr.part, wr.buf)
		wr.buf.Reset()
		if err != nil {
			wr.abort = true
			return 0, err
		}
		wr.part++
	}
	return n, nil
}

// Close sends whatever is still buffered and completes the upload. If
// any Write failed, or the upload cannot be completed, the object is
// abandoned and nothing is kept in S3.
func (wr *s3Writer) Close() error {
	if wr.buf != nil {
		defer func() {
			uploadBufPool.Put(wr.buf)
			wr.buf = nil
		}()
	}

	// everything fit in the first buffer
	if !wr.isMulti {
		if wr.abort {
			return nil
		}
		return wr.putSingle(wr.buf)
	}

	var err error
	if !wr.abort && wr.buf.Len() > 0 {
		err = wr.putPart(wr.part, wr.buf)
		if err != nil {
			wr.abort = true
		}
	}
	if wr.abort {
		_, err2 := wr.api.AbortMultipartUpload(&s3.AbortMultipartUploadInput{
			Bucket:   aws.String(wr.bucket),
			Key:      aws.String(wr.key),
			UploadId: aws.String(wr.uploadID),
		})
		if err2 != nil {
			log.Println("S3 abort:", wr.key, err2)
			if err == nil {
				err = err2
			}
		}
		return err
	}
	err = wr.complete()
	if err != nil {
		log.Println("S3 complete:", wr.key, err)
	}
	return err
}

func (wr *s3Writer) getbuf() *bytes.Buffer {
	b, ok := uploadBufPool.Get().(*bytes.Buffer)
	if !ok {
		b = &bytes.Buffer{}
		b.Grow(2 * basePartSize)
	}
	b.Reset()
	return b
}

// start opens a multipart upload and records its id.
func (wr *s3Writer) start() error {
	result, err := wr.api.CreateMultipartUpload(&s3.CreateMultipartUploadInput{
		Bucket: aws.String(wr.bucket),
		Key:    aws.String(wr.key),
	})
	if err != nil {
		log.Println("S3 start multipart:", wr.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": wr.bucket, "Key": wr.key})
		return err
	}
	wr.isMulti = true
	wr.uploadID = *result.UploadId
	return nil
}

// complete tells S3 to assemble the uploaded parts into the object.
func (wr *s3Writer) complete() error {
	var parts []*s3.CompletedPart
	for i, etag := range wr.etags {
		parts = append(parts, &s3.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int64(int64(i + 1)), // AWS parts are 1-based
		})
	}
	_, err := wr.api.CompleteMultipartUpload(
		&s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(wr.bucket),
			Key:      aws.String(wr.key),
			UploadId: aws.String(wr.uploadID),
			MultipartUpload: &s3.CompletedMultipartUpload{
				Parts: parts,
			},
		})
	return err
}

// putPart uploads buf as part partno, starting the multipart upload if
// this is the first part.
func (wr *s3Writer) putPart(partno int, buf *bytes.Buffer) error {
	if !wr.isMulti {
		if err := wr.start(); err != nil {
			return err
		}
	}
	output, err := wr.api.UploadPart(&s3.UploadPartInput{
		Body:       bytes.NewReader(buf.Bytes()), // UploadPart needs Seek
		Bucket:     aws.String(wr.bucket),
		Key:        aws.String(wr.key),
		PartNumber: aws.Int64(int64(partno + 1)),
		UploadId:   aws.String(wr.uploadID),
	})
	if err != nil {
		log.Println("S3 upload part:", wr.key, partno+1, err)
		return err
	}
	if output.ETag == nil {
		log.Println("S3 no etag for part", partno+1, "key", wr.key)
		return ErrNoETag
	}
	wr.etags = append(wr.etags, *output.ETag)
	return nil
}

// putSingle uploads buf as the entire object with one PUT. buf is nil
// when Close was called without any Write.
func (wr *s3Writer) putSingle(buf *bytes.Buffer) error {
	source := &bytes.Reader{} // PutObject needs Seek
	if buf != nil {
		source.Reset(buf.Bytes())
	}
	_, err := wr.api.PutObject(&s3.PutObjectInput{
		Body:          source,
		Bucket:        aws.String(wr.bucket),
		Key:           aws.String(wr.key),
		ContentLength: aws.Int64(int64(source.Len())),
	})
	if err != nil {
		log.Println("S3 put:", wr.key, err)
	}
	return err
}
