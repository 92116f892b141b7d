package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Fingerprint identifies a version of a source file. Dumps run to tens of
// gigabytes, so the hash covers name, size and modification time rather
// than content.
type Fingerprint struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Hash    string    `json:"hash"`
}

// FingerprintFile stats path and computes its fingerprint.
func FingerprintFile(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	if info.IsDir() {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: is a directory", path)
	}

	fp := Fingerprint{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime().UTC(),
	}
	fp.Hash = computeHash(fp.Name, fp.Size, fp.ModTime)
	return fp, nil
}

// Equal reports whether two fingerprints describe the same file version.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Hash != "" && f.Hash == other.Hash
}

func computeHash(name string, size int64, mod time.Time) string {
	combined := strings.Join([]string{
		name,
		strconv.FormatInt(size, 10),
		strconv.FormatInt(mod.UnixNano(), 10),
	}, "|")
	h := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(h[:])
}
