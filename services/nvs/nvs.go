// Package nvs is the non-volatile key-value store the cloud node keeps its
// identity in. Keys live in namespaces; both names are limited to 15 bytes.
package nvs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pwmlight-go/errcode"
)

// FormatVersion is the on-flash layout this build writes. A partition stamped
// with a newer version must be erased before use.
const FormatVersion = 2

// MaxName is the longest namespace or key accepted.
const MaxName = 15

// Store is an open partition.
type Store interface {
	// Get fails with errcode.NVSNotFound when the key is absent.
	Get(ns, key string) ([]byte, error)
	Set(ns, key string, val []byte) error
	Delete(ns, key string) error
	EraseAll() error
	Close() error
}

// Flash is a partition that can be opened or wiped.
type Flash interface {
	Open() (Store, error)
	Erase() error
}

// Init opens f. A partition without a free page or written by a newer format
// is erased and opened again; any other error is returned as is.
func Init(f Flash) (Store, error) {
	st, err := f.Open()
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, errcode.NVSNoFreePages) && !errors.Is(err, errcode.NVSNewVersionFound) {
		return nil, err
	}
	log.Warn().Err(err).Msg("nvs: erasing partition")
	if err := f.Erase(); err != nil {
		return nil, fmt.Errorf("nvs: erase: %w", err)
	}
	return f.Open()
}

func checkName(ns, key string) error {
	if ns == "" || key == "" || len(ns) > MaxName || len(key) > MaxName {
		return &errcode.E{C: errcode.InvalidParams, Op: "nvs", Msg: fmt.Sprintf("bad name %q/%q", ns, key)}
	}
	return nil
}

const (
	nsNode = "node"
	keyID  = "id"
)

// NodeID returns the persisted node identity, generating and storing a new
// one on first boot. created reports whether it was generated.
func NodeID(st Store) (id string, created bool, err error) {
	b, err := st.Get(nsNode, keyID)
	switch {
	case err == nil && len(b) > 0:
		return string(b), false, nil
	case err != nil && !errors.Is(err, errcode.NVSNotFound):
		return "", false, err
	}
	id = uuid.NewString()
	if err := st.Set(nsNode, keyID, []byte(id)); err != nil {
		return "", false, err
	}
	return id, true, nil
}
