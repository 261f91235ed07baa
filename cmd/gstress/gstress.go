package main

// Stress test a grove instance
//
// Parameters:
//  n   - The number of goroutines to use. Default is 100
//  z   - The maximum payload size per node in KB. Default is 100
//  c   - The number of containers to upload. Default is 10000
//
//  url - the url of the grove instance. Default is http://localhost:14000

import (
	"bytes"
	"crypto/md5"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/ndlib/grove/client"
	"github.com/ndlib/grove/tree"
	"github.com/ndlib/grove/util"
)

var (
	NumGoroutines = flag.Int("n", 100, "number of goroutines")
	MaxPayload    = flag.Int("z", 100, "max node payload size in KB")
	NumContainers = flag.Int("c", 10000, "number of containers to upload")
	urlpath       = flag.String("url", "http://localhost:14000", "base url of service to test")
	token         = flag.String("token", "", "API token to use")
)

func main() {
	flag.Parse()
	conn := &client.Connection{HostURL: *urlpath, Token: *token}
	wg := sync.WaitGroup{}
	gate := util.NewGate(*NumGoroutines)
	for i := 0; i < *NumContainers; i++ {
		key := fmt.Sprintf("stress%05dx", i)
		wg.Add(1)
		go func() {
			gate.Enter()
			CreateContainer(conn, key)
			gate.Leave()
			wg.Done()
		}()
	}
	wg.Wait()
}

// CreateContainer uploads a random container and then reads one of its
// nodes back, comparing the payload with what was uploaded.
func CreateContainer(conn *client.Connection, key string) {
	starttime := time.Now()
	log.Printf("Starting upload for %s", key)

	root, paths := randomTree()
	defer root.Destroy()
	buf := new(bytes.Buffer)
	if err := root.Save(buf); err != nil {
		log.Println(key, err)
		return
	}
	size := int64(buf.Len())
	sum := md5.Sum(buf.Bytes())
	err := conn.Upload(key, bytes.NewReader(buf.Bytes()), sum[:])
	if err != nil {
		log.Printf("Received %s: %s", err, key)
		return
	}

	// read a random node back and compare payloads
	pick := paths[rand.Intn(len(paths))]
	node, err := root.Descend(pick...)
	if err != nil {
		log.Println(key, err)
		return
	}
	expected := make([]byte, node.Size())
	node.Seek(0, io.SeekStart)
	io.ReadFull(node, expected)
	received := new(bytes.Buffer)
	if err := conn.ReadNode(received, key, pick); err != nil {
		log.Printf("Received %s reading %s %v", err, key, pick)
		return
	}
	if !bytes.Equal(received.Bytes(), expected) {
		log.Printf("Payload mismatch on %s %v", key, pick)
		return
	}

	runDuration := time.Since(starttime)
	log.Printf("Created %s: %v bytes, %v time, %f MB/s", key, size,
		runDuration,
		float64(size/1000000)/runDuration.Seconds())
}

// randomTree builds a tree with random shape and payloads, and returns it
// along with the index path of every node in it.
func randomTree() (*tree.Node, [][]int) {
	root := tree.New()
	paths := [][]int{{}}
	fillNode(root, nil, &paths, 3)
	return root, paths
}

func fillNode(n *tree.Node, path []int, paths *[][]int, maxdepth int) {
	payload := make([]byte, rand.Intn(*MaxPayload*1000))
	rand.Read(payload)
	n.Write(payload)
	if maxdepth == 0 {
		return
	}
	nkids := rand.Intn(4)
	for i := 0; i < nkids; i++ {
		child := tree.New()
		n.Add(child)
		childpath := append(append([]int{}, path...), i)
		*paths = append(*paths, childpath)
		fillNode(child, childpath, paths, maxdepth-1)
	}
}
