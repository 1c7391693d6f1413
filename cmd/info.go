package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xfscore/xfs/pkg/mount"
)

var infoCmd = &cobra.Command{
	Use:   "info <source>",
	Short: "Print superblock and geometry summary for an XFS image or device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args[0])
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(source string) error {
	mh, err := openReadOnly(source)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	defer mount.Unmount(mh)

	sb := mh.Superblock()
	fmt.Printf("uuid:           %s\n", sb.UUID)
	fmt.Printf("block size:     %d bytes\n", sb.BlockSize)
	fmt.Printf("data blocks:    %d\n", sb.DBlocks)
	fmt.Printf("ag count:       %d\n", sb.AGCount)
	fmt.Printf("ag blocks:      %d\n", sb.AGBlocks)
	fmt.Printf("log blocks:     %d (start %d)\n", sb.LogBlocks, sb.LogStart)
	fmt.Printf("inode size:     %d bytes (%d per block)\n", sb.InodeSize, sb.InopBlock)
	fmt.Printf("inodes:         %d allocated, %d free\n", sb.ICount, sb.IFree)
	fmt.Printf("free blocks:    %d\n", sb.FDBlocks)
	fmt.Printf("root inode:     %d\n", sb.RootIno)
	fmt.Printf("crc32c:         %v\n", mh.HasCRC())
	fmt.Printf("ftype:          %v\n", mh.HasFTYPE())
	return nil
}
