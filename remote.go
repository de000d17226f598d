package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
)

/******************************************************************************/
/****************************** Remote Storage ********************************/
/******************************************************************************/

// The workdir may live on a local disk or on a networked store. The engine
// only needs a small capability set: open (read, append, overwrite), append,
// whole-file read, close, mkdir. Appends by distinct writers are assumed to
// be serialized per file; there is no seek and no truncation.

type remoteFile interface {
	Append(data []byte) error
	ReadAll() ([]byte, error)
	Close() error
}

type fileSys interface {
	// Open modes: "r" read, "a" append (create), "w" truncate-and-write.
	// Opening a missing file with "r" returns an error the caller is
	// expected to treat as "file absent".
	Open(path, mode string) (remoteFile, error)
	MkdirAll(path string) error
}

// *****************************************************************************
// ***************************** Local Filesystem ******************************

type localFS struct{}

type localFile struct {
	path string
	f    *os.File
}

func (localFS) Open(path, mode string) (remoteFile, error) {
	var flags int
	switch mode {
	case "r":
		flags = os.O_RDONLY
	case "a":
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	case "w":
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	default:
		panic("localFS.Open: unknown mode " + mode)
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	return &localFile{path: path, f: f}, nil
}

func (localFS) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (lf *localFile) Append(data []byte) error {
	_, err := lf.f.Write(data)
	return err
}

func (lf *localFile) ReadAll() ([]byte, error) {
	return ioutil.ReadFile(lf.path)
}

func (lf *localFile) Close() error { return lf.f.Close() }

// *****************************************************************************
// ****************************** Small helpers *******************************

// readFileIfPresent reads path through fsys, treating a failed open as an
// absent file (expected during early shard loading).
func readFileIfPresent(fsys fileSys, path string) []byte {
	f, err := fsys.Open(path, "r")
	if err != nil {
		return nil
	}
	defer f.Close()
	data, err := f.ReadAll()
	if err != nil {
		return nil
	}
	return data
}

// writeToLocalHashedFileInDir stores input under its content hash, giving a
// stable, collision-free corpus directory layout.
func writeToLocalHashedFileInDir(dir string, input []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(dir, hashOf(input)), input, 0644)
}
