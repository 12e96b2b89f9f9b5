package catalog

import (
	"embed"
	"io/fs"
)

//go:embed global
var globalFiles embed.FS

// GlobalName is the name of the built-in global package.
const GlobalName = "sqlweave"

// GlobalFS returns the built-in global package shipped with the binary.
func GlobalFS() fs.FS {
	sub, err := fs.Sub(globalFiles, "global")
	if err != nil {
		panic(err)
	}
	return sub
}
