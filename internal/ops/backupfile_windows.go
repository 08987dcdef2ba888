//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/quarry/internal/errors"
)

// openBackup opens a source backup. Windows has no O_NOFOLLOW, so the
// symlink checks of resolveBackupPath are all there is.
func openBackup(path string, flag int) (*os.File, error) {
	f, err := os.OpenFile(path, flag, 0600)
	if err != nil && os.IsNotExist(err) && flag&os.O_CREATE == 0 {
		return nil, errors.NewFileNotFound(path)
	}
	return f, err
}
