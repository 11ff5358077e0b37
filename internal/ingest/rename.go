package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
)

// linkRename emulates a no-replace rename: link fails if newPath exists.
func linkRename(oldPath, newPath string) error {
	if err := os.Link(oldPath, newPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", common.ErrRenameCollision, newPath)
		}
		return err
	}
	return os.Remove(oldPath)
}
