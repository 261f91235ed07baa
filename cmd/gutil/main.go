// Gutil is a command line tool for working with grove container files, both
// local ones and those kept on a grove server.
//
// Containers built by this tool follow a naming convention for payloads:
// each node's payload starts with the entry's name (as written by
// WriteString), one kind byte, 'f' for a file or 'd' for a directory, and
// then, for files, the file's bytes. Nothing in the container format itself
// requires this; it is only how this tool records directory trees.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/antonholmquist/jason"

	"github.com/ndlib/grove/client"
	"github.com/ndlib/grove/tree"
	"github.com/ndlib/grove/util"
)

var (
	server = flag.String("server", "http://localhost:14000", "grove server for the remote and verify commands")
	token  = flag.String("token", "", "API token to send to the server")
	usage  = `
gutil <command> <command arguments>

Possible commands:
    new <grove> <file/directory list>

    ls <grove>

    cat <grove> [index path]

    add <grove> <file/directory list>

    unpack <grove> <target directory>

    verify <grove> <key>

    remote list
    remote info <key>
    remote tree <key>
    remote cat <key> [index path]

Index paths name a node by its child indexes from the root, e.g. 0/2/1.
`
)

func main() {
	flag.Parse()

	args := flag.Args()

	if len(args) == 0 {
		fmt.Println(usage)
		return
	}

	switch args[0] {
	case "new":
		if len(args) < 3 {
			fmt.Println("Usage: gutil new <grove> <file/directory list>")
			return
		}
		donew(args[1], args[2:])
	case "ls":
		if len(args) != 2 {
			fmt.Println("Usage: gutil ls <grove>")
			return
		}
		dols(args[1])
	case "cat":
		if len(args) != 2 && len(args) != 3 {
			fmt.Println("Usage: gutil cat <grove> [index path]")
			return
		}
		var indexpath string
		if len(args) == 3 {
			indexpath = args[2]
		}
		docat(args[1], indexpath)
	case "add":
		if len(args) < 3 {
			fmt.Println("Usage: gutil add <grove> <file/directory list>")
			return
		}
		doadd(args[1], args[2:])
	case "unpack":
		if len(args) != 3 {
			fmt.Println("Usage: gutil unpack <grove> <target directory>")
			return
		}
		dounpack(args[1], args[2])
	case "verify":
		if len(args) != 3 {
			fmt.Println("Usage: gutil verify <grove> <key>")
			return
		}
		doverify(args[1], args[2])
	case "remote":
		doremote(args[1:])
	default:
		fmt.Println(usage)
	}
}

func donew(fname string, files []string) {
	root := tree.New()
	root.WriteString("")
	root.Write([]byte{'d'})
	for _, name := range files {
		if err := addpath(root, name); err != nil {
			fmt.Println(err)
			return
		}
	}
	if err := root.SaveFile(fname); err != nil {
		fmt.Println(err)
	}
}

// addpath adds the file or directory tree at fname as a new child of
// parent, following the payload naming convention.
func addpath(parent *tree.Node, fname string) error {
	info, err := os.Stat(fname)
	if err != nil {
		return err
	}
	node := tree.New()
	if _, err := parent.Add(node); err != nil {
		return err
	}
	if err := node.WriteString(info.Name()); err != nil {
		return err
	}
	if info.IsDir() {
		if _, err := node.Write([]byte{'d'}); err != nil {
			return err
		}
		entries, err := ioutil.ReadDir(fname)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if err := addpath(node, filepath.Join(fname, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	if _, err := node.Write([]byte{'f'}); err != nil {
		return err
	}
	in, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer in.Close()
	fmt.Printf("Adding %s\n", fname)
	_, err = io.Copy(node, in)
	return err
}

// describe reads the name and kind byte from the front of a node's payload.
// If the payload does not follow the naming convention the kind is '?' and
// the size is the whole payload. Otherwise the node is left positioned at
// the start of its content, and size counts the bytes from there.
func describe(n *tree.Node) (name string, kind byte, size int64) {
	kind = '?'
	size = n.Size()
	if _, err := n.Seek(0, io.SeekStart); err != nil {
		return
	}
	s, err := n.ReadString()
	if err != nil {
		return
	}
	var b [1]byte
	if _, err := io.ReadFull(n, b[:]); err != nil {
		return
	}
	if b[0] != 'f' && b[0] != 'd' {
		return
	}
	name = s
	kind = b[0]
	size = n.Size() - n.Position()
	return
}

func dols(fname string) {
	root := tree.New()
	if err := root.LoadFileMapped(fname); err != nil {
		fmt.Println(err)
		return
	}
	defer root.Destroy()
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "PATH\tSIZE\tKIND\tNAME\n")
	lsnode(w, root, "/")
	w.Flush()
}

func lsnode(w io.Writer, n *tree.Node, path string) {
	name, kind, size := describe(n)
	fmt.Fprintf(w, "%s\t%d\t%c\t%s\n", path, size, kind, name)
	for i := 0; i < n.Len(); i++ {
		childpath := path + "/" + strconv.Itoa(i)
		if path == "/" {
			childpath = "/" + strconv.Itoa(i)
		}
		lsnode(w, n.Child(i), childpath)
	}
}

func docat(fname string, indexpath string) {
	indexes, err := parseIndexes(indexpath)
	if err != nil {
		fmt.Println(err)
		return
	}
	root := tree.New()
	if err := root.LoadFileMapped(fname); err != nil {
		fmt.Println(err)
		return
	}
	defer root.Destroy()
	node, err := root.Descend(indexes...)
	if err != nil {
		fmt.Println(err)
		return
	}
	// skip the name header if there is one
	if _, kind, _ := describe(node); kind == '?' {
		node.Seek(0, io.SeekStart)
	}
	io.Copy(os.Stdout, node)
}

func doadd(fname string, files []string) {
	root := tree.New()
	if err := root.LoadFileMapped(fname); err != nil {
		fmt.Println(err)
		return
	}
	defer root.Destroy()
	for _, name := range files {
		if err := addpath(root, name); err != nil {
			fmt.Println(err)
			return
		}
	}
	// The loaded nodes still window the original file, so save into a
	// temporary file and rename it into place.
	tmp, err := ioutil.TempFile(filepath.Dir(fname), "gutil-")
	if err != nil {
		fmt.Println(err)
		return
	}
	err = root.Save(tmp)
	if err2 := tmp.Close(); err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(tmp.Name())
		fmt.Println(err)
		return
	}
	if err := os.Rename(tmp.Name(), fname); err != nil {
		fmt.Println(err)
	}
}

func dounpack(fname string, target string) {
	root := tree.New()
	if err := root.LoadFileMapped(fname); err != nil {
		fmt.Println(err)
		return
	}
	defer root.Destroy()
	if err := unpacknode(root, target); err != nil {
		fmt.Println(err)
	}
}

func unpacknode(n *tree.Node, target string) error {
	name, kind, _ := describe(n)
	// refuse names that could escape the target directory
	if strings.ContainsAny(name, "/\\") || name == ".." {
		return fmt.Errorf("refusing to unpack bad name %q", name)
	}
	switch kind {
	case 'd':
		dir := filepath.Join(target, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		for i := 0; i < n.Len(); i++ {
			if err := unpacknode(n.Child(i), dir); err != nil {
				return err
			}
		}
		return nil
	case 'f':
		fmt.Printf("Writing %s\n", filepath.Join(target, name))
		out, err := os.Create(filepath.Join(target, name))
		if err != nil {
			return err
		}
		_, err = io.Copy(out, n)
		if err2 := out.Close(); err == nil {
			err = err2
		}
		return err
	}
	return fmt.Errorf("node does not follow the naming convention, cannot unpack")
}

// doverify checksums a local container file and compares it against the
// catalog record the server keeps for the given key.
func doverify(fname string, key string) {
	conn := &client.Connection{HostURL: *server, Token: *token}
	info, err := conn.Info(key)
	if err != nil {
		fmt.Println(err)
		return
	}
	remote, err := info.GetString("sha256")
	if err != nil {
		fmt.Println("catalog record has no sha256:", err)
		return
	}
	goal, err := hex.DecodeString(remote)
	if err != nil {
		fmt.Println("bad sha256 in catalog record:", err)
		return
	}
	f, err := os.Open(fname)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer f.Close()
	ok, err := util.VerifyStreamHash(f, nil, goal)
	if err != nil {
		fmt.Println(err)
		return
	}
	if !ok {
		fmt.Printf("MISMATCH: %s does not hash to the catalog's %s\n", fname, remote)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func doremote(args []string) {
	if len(args) == 0 {
		fmt.Println(usage)
		return
	}
	conn := &client.Connection{HostURL: *server, Token: *token}
	switch args[0] {
	case "list":
		keys, err := conn.List()
		if err != nil {
			fmt.Println(err)
			return
		}
		for _, key := range keys {
			fmt.Println(key)
		}
	case "info":
		if len(args) != 2 {
			fmt.Println("Usage: gutil remote info <key>")
			return
		}
		info, err := conn.Info(args[1])
		if err != nil {
			fmt.Println(err)
			return
		}
		printinfo(info)
	case "tree":
		if len(args) != 2 {
			fmt.Println("Usage: gutil remote tree <key>")
			return
		}
		summary, err := conn.Tree(args[1])
		if err != nil {
			fmt.Println(err)
			return
		}
		printtree(summary)
	case "cat":
		if len(args) != 2 && len(args) != 3 {
			fmt.Println("Usage: gutil remote cat <key> [index path]")
			return
		}
		var indexpath string
		if len(args) == 3 {
			indexpath = args[2]
		}
		indexes, err := parseIndexes(indexpath)
		if err != nil {
			fmt.Println(err)
			return
		}
		if err := conn.ReadNode(os.Stdout, args[1], indexes); err != nil {
			fmt.Println(err)
		}
	default:
		fmt.Println(usage)
	}
}

func printinfo(info *jason.Object) {
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	for _, field := range []string{"key", "size", "node_count", "depth", "payload", "md5", "sha256", "uploaded", "creator"} {
		v, err := info.GetValue(field)
		if err != nil {
			continue
		}
		x := v.Interface()
		fmt.Fprintf(w, "%s:\t%v\n", field, x)
	}
	w.Flush()
}

func printtree(summary *jason.Object) {
	nodes, err := summary.GetObjectArray("nodes")
	if err != nil {
		fmt.Println(err)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "PATH\tSIZE\tCHILDREN\n")
	for _, n := range nodes {
		path, _ := n.GetString("path")
		size, _ := n.GetInt64("size")
		children, _ := n.GetInt64("children")
		fmt.Fprintf(w, "%s\t%d\t%d\n", path, size, children)
	}
	w.Flush()
}

func parseIndexes(s string) ([]int, error) {
	var result []int
	for _, piece := range strings.Split(s, "/") {
		if piece == "" {
			continue
		}
		n, err := strconv.Atoi(piece)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad index path %q", s)
		}
		result = append(result, n)
	}
	return result, nil
}
