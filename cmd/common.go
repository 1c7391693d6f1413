package cmd

import (
	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/pkg/mount"
)

// openReadOnly mounts source read-only for inspection. Every debug
// subcommand opens its own mount and unmounts when done; none of them
// hold a handle across invocations.
func openReadOnly(source string) (interfaces.MountHandle, error) {
	return mount.Mount(source, mount.Options{ReadOnly: true, Debug: verbose})
}
