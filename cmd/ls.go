package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xfscore/xfs/internal/services"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/pkg/mount"
)

var lsPath string

var lsCmd = &cobra.Command{
	Use:   "ls <source>",
	Short: "List a directory's entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLs(args[0], lsPath)
	},
}

func init() {
	lsCmd.Flags().StringVarP(&lsPath, "path", "p", "/", "path to list, relative to the mount root")
	rootCmd.AddCommand(lsCmd)
}

func runLs(source, path string) error {
	mh, err := openReadOnly(source)
	if err != nil {
		return fmt.Errorf("ls: %w", err)
	}
	defer mount.Unmount(mh)

	svc, err := services.New(mh)
	if err != nil {
		return fmt.Errorf("ls: %w", err)
	}

	dir, err := svc.Resolve(path)
	if err != nil {
		return fmt.Errorf("ls %s: %w", path, err)
	}
	defer mh.Inodes().Put(dir)

	return svc.Readdir(dir, 0, func(e types.DirEntry) bool {
		typ := "?"
		switch e.Ftype {
		case types.FtypeDir:
			typ = "d"
		case types.FtypeReg:
			typ = "f"
		case types.FtypeSymlink:
			typ = "l"
		}
		fmt.Printf("%s  %8d  %s\n", typ, e.Inode, e.Name)
		return true
	})
}
