package ingestion

import (
	"fmt"
	"os"
	"reflect"
)

// fileIdent returns a stable identity for an open file, used to tell a
// rename-rotation (new file at the same path) from growth of the same file.
// Reflection on stat.Sys() avoids per-platform build tags for the Unix-likes,
// which all expose Dev/Ino. Windows stat data carries no file index, so the
// identity is empty there and rotation detection falls back to the size check.
func fileIdent(info os.FileInfo) string {
	sys := info.Sys()
	if sys == nil {
		return ""
	}

	v := reflect.ValueOf(sys)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return ""
	}

	ino := v.FieldByName("Ino")
	if !ino.IsValid() || !ino.CanUint() {
		return ""
	}

	dev := uint64(0)
	if devField := v.FieldByName("Dev"); devField.IsValid() {
		if devField.CanUint() {
			dev = devField.Uint()
		} else if devField.CanInt() {
			dev = uint64(devField.Int())
		}
	}
	return fmt.Sprintf("%d:%d", dev, ino.Uint())
}
